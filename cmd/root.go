package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quilllabs/quill/pkg/assistant"
	"github.com/quilllabs/quill/pkg/config"
	"github.com/quilllabs/quill/pkg/logger"
	"github.com/quilllabs/quill/pkg/prompt"
	"github.com/quilllabs/quill/pkg/provider"
	"github.com/quilllabs/quill/pkg/render"
	"github.com/quilllabs/quill/pkg/view"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "AI programming assistant",
	Long: `Quill streams answers from a local model or any OpenAI-compatible
endpoint into a styled transcript, with copy/insert controls on
completed code blocks.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if err := logger.Init(); err != nil {
			fmt.Fprintf(os.Stderr, "logging disabled: %v\n", err)
		}

		p, err := provider.FromConfig(cfg)
		if err != nil {
			return err
		}
		defer closeProvider(p)

		sink := view.NewStreamSink(os.Stdout, view.DefaultStyles())
		a, err := assistant.New(cfg, p, sink, terminalActions())
		if err != nil {
			return err
		}

		files, _ := cmd.Flags().GetStringSlice("context-file")
		snippets, err := loadSnippets(files)
		if err != nil {
			return err
		}
		a.SetSnippets(snippets)
		sink.OnAction(func(messageID string, action render.ActionKind, segment int) {
			if err := a.HandleAction(messageID, action, segment); err != nil {
				fmt.Fprintf(os.Stderr, "action failed: %v\n", err)
			}
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if prompt := viper.GetString("prompt"); prompt != "" {
			_, err := a.Send(ctx, prompt)
			return err
		}
		return repl(ctx, a)
	},
}

// terminalActions writes code blocks to stdout; a host editor would
// supply its clipboard and cursor insertion here instead.
func terminalActions() assistant.Actions {
	return assistant.Actions{
		Copy: func(code string) error {
			_, err := fmt.Print(code)
			return err
		},
		Insert: func(code string) error {
			_, err := fmt.Print(code)
			return err
		},
	}
}

// loadSnippets reads files the user wants sent ahead of the
// conversation, the way an editor would inject the open buffer.
func loadSnippets(paths []string) ([]prompt.Snippet, error) {
	var snippets []prompt.Snippet
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading context file: %w", err)
		}
		snippets = append(snippets, prompt.Snippet{
			Label:   path,
			Content: string(data),
		})
	}
	return snippets, nil
}

func closeProvider(p provider.Provider) {
	if closer, ok := p.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("provider shutdown: %v", err)
		}
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default .quill/quill.yaml)")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("provider", "", "generation backend: local, openai, lmstudio, ollama")
	viper.BindPFlag("provider", rootCmd.PersistentFlags().Lookup("provider"))

	rootCmd.PersistentFlags().String("model", "", "model name for remote backends")
	viper.BindPFlag("remote.model", rootCmd.PersistentFlags().Lookup("model"))

	rootCmd.PersistentFlags().String("model-path", "", "path to local GGUF weights")
	viper.BindPFlag("local.model_path", rootCmd.PersistentFlags().Lookup("model-path"))

	rootCmd.Flags().StringSlice("context-file", nil, "file whose content is sent as context ahead of the conversation")

	rootCmd.Flags().StringP("prompt", "p", "", "send one prompt and exit instead of starting the REPL")
	viper.BindPFlag("prompt", rootCmd.Flags().Lookup("prompt"))

	rootCmd.Flags().String("history", "", "history file to continue from")
	viper.BindPFlag("prompt.history_file", rootCmd.Flags().Lookup("history"))
}
