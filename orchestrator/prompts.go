package orchestrator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jxucoder/livecoder/model"
)

// DefaultPersona opens the system prompt.
const DefaultPersona = `You are a classically trained electronic music composer and live-coding assistant. You help users create nuanced compositions by writing and running scripts against the live audio runtime.`

// contextMessages is how many prior chat messages the prompt carries.
const contextMessages = 3

// contextRunes bounds each prior message quoted in the prompt.
const contextRunes = 500

const guidelines = `Guidelines:
- When users ask for code changes, use the appropriate tools to update their code
- Use update_code for complete code replacements
- Use modify_code_section for targeted changes to specific parts
- Use add_code_block to add new functionality
- Always execute_code after making changes if the user wants to hear the result
- Provide clear explanations of what you're doing
- Help debug issues when they arise
- Keep responses focused and practical

Remember: you can directly modify their code through the tools. Don't just provide code in text form!`

// buildSystemPrompt embeds the script, flags, recent context and the tool
// list into the system prompt.
func (o *Orchestrator) buildSystemPrompt(prior model.AppState) string {
	var b strings.Builder
	b.WriteString(o.persona)
	b.WriteString("\n\nIMPORTANT: You have access to tools that directly modify the user's script. ")
	b.WriteString("Use them when the user requests code changes, improvements, or new ideas.\n\n")

	script := prior.Script
	if strings.TrimSpace(script) == "" {
		script = "No code yet"
	}
	fmt.Fprintf(&b, "Current code in editor:\n```%s\n%s\n```\n\n", o.language, script)

	playing := "No"
	if prior.IsRunning {
		playing = "Yes"
	}
	fmt.Fprintf(&b, "Current state:\n- Audio playing: %s\n- Recent executions: %d\n\n", playing, len(prior.ExecutionHistory))

	b.WriteString("Previous conversation context:\n")
	recent := prior.Messages
	if len(recent) > contextMessages {
		recent = recent[len(recent)-contextMessages:]
	}
	if len(recent) == 0 {
		b.WriteString("No previous context\n")
	}
	for _, m := range recent {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, clip(m.Content, contextRunes))
	}

	b.WriteString("\nAvailable tools:\n")
	for _, d := range o.tools {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
	}

	b.WriteString("\n")
	b.WriteString(guidelines)
	return b.String()
}

// clip cuts s to at most limit runes, marking the cut with an ellipsis.
func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit <= 0 {
		return ""
	}
	cut := 0
	for i := range s {
		if cut == limit-1 {
			return s[:i] + "…"
		}
		cut++
	}
	return s
}
