package prompt

import (
	"fmt"
	"strings"
)

// DefaultSystemPrompt is the instruction message sent ahead of every
// conversation unless the user configures their own.
const DefaultSystemPrompt = `You are an AI programming assistant integrated into a code editor.

Guidelines:
1. Provide clear, concise answers focused on the user's code
2. Include code examples when helpful, in fenced code blocks with a language tag
3. Point out best practices and common pitfalls
4. When editing code, show the complete edited section`

// SystemPrompt renders the system prompt, optionally noting the user's
// skill level and preferred language.
func SystemPrompt(skillLevel, language string) string {
	var b strings.Builder
	b.WriteString(DefaultSystemPrompt)

	if skillLevel != "" || language != "" {
		b.WriteString("\n\nUser Information:")
		if skillLevel != "" {
			fmt.Fprintf(&b, "\n- Skill Level: %s", skillLevel)
		}
		if language != "" {
			fmt.Fprintf(&b, "\n- Preferred Language: %s", language)
		}
	}
	return b.String()
}
