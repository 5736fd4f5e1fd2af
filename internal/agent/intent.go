package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/protocol"
)

// Intent is the model's tool-use decision for one message.
type Intent struct {
	NeedsTools bool       `json:"needs_tools"`
	Reasoning  string     `json:"reasoning"`
	ToolCalls  []ToolCall `json:"tool_calls"`
}

// ToolCall is one requested invocation inside an Intent.
type ToolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// parseIntent extracts the first JSON object from the model output and
// decodes it. Anything unparseable collapses to "no tools needed" so a
// rambling model still yields a usable conversation.
func parseIntent(raw string) Intent {
	obj := extractJSONObject(raw)
	if obj == "" {
		return Intent{}
	}
	var intent Intent
	if err := json.Unmarshal([]byte(obj), &intent); err != nil {
		return Intent{}
	}
	return intent
}

// extractJSONObject returns the first balanced top-level JSON object in s,
// tolerating prose around it and braces inside string literals.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// buildIntentPrompt renders the tool catalog and asks the model to decide,
// in strict JSON, whether the message needs tools and which calls to make.
func buildIntentPrompt(text string, tools []protocol.ToolDescriptor, history []ConversationTurn) string {
	var sb strings.Builder
	sb.WriteString("You are an AWS infrastructure assistant. ")
	sb.WriteString("Decide whether answering the user requires calling tools.\n\n")

	if len(tools) == 0 {
		sb.WriteString("No tools are currently available.\n")
	} else {
		sb.WriteString("Available tools:\n")
		for _, tool := range tools {
			fmt.Fprintf(&sb, "- %s: %s\n", tool.QualifiedName(), tool.Description)
			props := tool.InputSchema.PropertyNames()
			if len(props) > 0 {
				fmt.Fprintf(&sb, "  parameters: %s", strings.Join(props, ", "))
				if len(tool.InputSchema.Required) > 0 {
					fmt.Fprintf(&sb, " (required: %s)", strings.Join(tool.InputSchema.Required, ", "))
				}
				sb.WriteString("\n")
			}
		}
	}

	writeHistory(&sb, history)

	fmt.Fprintf(&sb, "\nUser message: %s\n\n", text)
	sb.WriteString("Respond with a single JSON object and nothing else:\n")
	sb.WriteString(`{"needs_tools": true|false, "reasoning": "...", "tool_calls": [{"tool": "server:tool_name", "arguments": {...}}]}` + "\n")
	sb.WriteString("Use the exact parameter names listed for each tool. ")
	sb.WriteString("For AWS CLI commands, pass the full command string including the leading \"aws\". ")
	sb.WriteString("If no tools are needed, set needs_tools to false and tool_calls to [].\n")
	return sb.String()
}

// buildReplyPrompt asks the model to answer the user from the tool results
// gathered for this message.
func buildReplyPrompt(text string, history []ConversationTurn, outcomes []ToolOutcome) string {
	var sb strings.Builder
	sb.WriteString("You are an AWS infrastructure assistant talking to an operator. ")
	sb.WriteString("Answer concisely and concretely.\n")

	writeHistory(&sb, history)

	fmt.Fprintf(&sb, "\nUser message: %s\n", text)

	if len(outcomes) > 0 {
		sb.WriteString("\nTool results:\n")
		for _, o := range outcomes {
			if o.FallbackReason != "" {
				fmt.Fprintf(&sb, "- %s (recovered from %s):\n", o.Tool, o.FallbackReason)
			} else {
				fmt.Fprintf(&sb, "- %s:\n", o.Tool)
			}
			if o.Result.Error != "" {
				fmt.Fprintf(&sb, "  error: %s\n", o.Result.Error)
			} else {
				data, err := json.Marshal(o.Result.Result)
				if err != nil {
					data = []byte(fmt.Sprintf("%v", o.Result.Result))
				}
				fmt.Fprintf(&sb, "  %s\n", data)
			}
		}
		sb.WriteString("\nBase your answer on these results. ")
		sb.WriteString("If a tool failed, explain the failure plainly and suggest what the user can do about it.\n")
	} else {
		sb.WriteString("\nNo tools were used for this message. Answer from general AWS knowledge.\n")
	}
	return sb.String()
}

func writeHistory(sb *strings.Builder, history []ConversationTurn) {
	if len(history) == 0 {
		return
	}
	sb.WriteString("\nRecent conversation:\n")
	for _, turn := range history {
		fmt.Fprintf(sb, "User: %s\nAssistant: %s\n", turn.User, turn.Assistant)
	}
}
