package agent

import (
	"log"
	"strings"

	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/protocol"
)

// suggestToolName is the per-server command-suggestion tool used as the
// fallback after an argument validation failure.
const suggestToolName = "suggest_aws_commands"

// argAliases maps, per bare tool name, the wrong-but-predictable argument
// names models produce to the names the servers actually accept.
var argAliases = map[string]map[string]string{
	"call_aws":             {"command": "cli_command"},
	"suggest_aws_commands": {"command": "query"},
	"search_documentation": {"search": "search_phrase"},
}

// repairArguments normalizes model-produced arguments against the tool's
// schema: known aliases are renamed when the canonical key is absent, keys
// the schema does not declare are dropped, and missing required keys are
// logged but left for the server to reject. Idempotent: repaired arguments
// pass through unchanged.
func repairArguments(tool protocol.ToolDescriptor, args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}

	for alias, canonical := range argAliases[tool.Name] {
		v, hasAlias := out[alias]
		if !hasAlias {
			continue
		}
		if _, hasCanonical := out[canonical]; hasCanonical {
			continue
		}
		out[canonical] = v
		delete(out, alias)
		log.Printf("[agent] %s: renamed argument %s to %s", tool.Name, alias, canonical)
	}

	if len(tool.InputSchema.Properties) > 0 {
		for k := range out {
			if !tool.InputSchema.HasProperty(k) {
				delete(out, k)
				log.Printf("[agent] %s: dropped unknown argument %s", tool.Name, k)
			}
		}
	}

	for _, req := range tool.InputSchema.Required {
		if _, ok := out[req]; !ok {
			log.Printf("[agent] %s: missing required argument %s", tool.Name, req)
		}
	}
	return out
}

// isValidationError reports whether a tool error looks like an argument
// validation failure, the shape worth retrying through the suggestion tool.
func isValidationError(errText string) bool {
	lower := strings.ToLower(errText)
	return strings.Contains(lower, "validation") || strings.Contains(lower, "parameters")
}
