package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/quilllabs/quill/pkg/assistant"
	"github.com/quilllabs/quill/pkg/chat"
	"github.com/quilllabs/quill/pkg/render"
)

const replHelp = `commands:
  /copy <n>     print code block n of the last reply
  /insert <n>   print code block n of the last reply
  /clear        reset the conversation
  /help         show this help
  /quit         exit`

// repl reads prompts line by line. Interrupting a streaming reply
// cancels it and keeps what arrived; interrupting at the prompt exits.
func repl(ctx context.Context, a *assistant.Assistant) error {
	fmt.Println(`type a prompt, or /help for commands`)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if done, err := runCommand(a, line); done {
				return err
			}
			continue
		}

		sendCtx, cancel := context.WithCancel(ctx)
		go func() {
			<-sendCtx.Done()
			a.Cancel()
		}()
		if _, err := a.Send(sendCtx, line); err != nil {
			fmt.Fprintf(os.Stderr, "\n%v\n", err)
		}
		cancel()

		if ctx.Err() != nil {
			return nil
		}
		fmt.Println()
	}
}

func runCommand(a *assistant.Assistant, line string) (done bool, err error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		fmt.Println(replHelp)

	case "/clear":
		if err := a.Clear(); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		} else {
			fmt.Println("conversation cleared")
		}

	case "/copy", "/insert":
		action := render.ActionCopy
		if fields[0] == "/insert" {
			action = render.ActionInsert
		}
		n := 0
		if len(fields) > 1 {
			parsed, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Fprintf(os.Stderr, "not a block number: %s\n", fields[1])
				return false, nil
			}
			n = parsed - 1
		}
		id, ok := lastAssistantID(a)
		if !ok {
			fmt.Fprintln(os.Stderr, "no reply yet")
			return false, nil
		}
		if err := a.HandleAction(id, action, n); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command %s\n", fields[0])
	}
	return false, nil
}

func lastAssistantID(a *assistant.Assistant) (string, bool) {
	messages := a.Transcript().Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].IsAssistant() && messages[i].Status == chat.StatusComplete {
			return messages[i].ID, true
		}
	}
	return "", false
}
