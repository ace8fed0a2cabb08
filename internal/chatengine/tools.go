package chatengine

import (
	"fmt"
	"strings"

	"github.com/finger-kernel/kernel/internal/protocol"
)

// sanitizeModelToolName maps a runtime tool name to the model-facing
// name: any character outside [A-Za-z0-9_-] becomes '_'. A result that
// is empty or entirely underscores becomes "tool".
func sanitizeModelToolName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" || strings.Trim(out, "_") == "" {
		return "tool"
	}
	return out
}

// ToolBinding pairs a model-facing tool name with the runtime tool it
// resolves to.
type ToolBinding struct {
	ModelName   string
	RuntimeName string
	Spec        protocol.ToolSpec
}

// buildToolBindings sanitizes and disambiguates tool names: the first
// occurrence of a sanitized base name keeps it; later collisions get a
// numeric suffix ("_2", "_3", ...).
func buildToolBindings(tools []protocol.ToolSpec) []ToolBinding {
	seen := make(map[string]int, len(tools))
	bindings := make([]ToolBinding, 0, len(tools))
	for _, tool := range tools {
		base := sanitizeModelToolName(tool.Name)
		seen[base]++
		modelName := base
		if seen[base] > 1 {
			modelName = fmt.Sprintf("%s_%d", base, seen[base])
		}
		bindings = append(bindings, ToolBinding{ModelName: modelName, RuntimeName: tool.Name, Spec: tool})
	}
	return bindings
}

func resolveRuntimeName(bindings []ToolBinding, modelName string) (string, bool) {
	for _, b := range bindings {
		if b.ModelName == modelName {
			return b.RuntimeName, true
		}
	}
	return "", false
}
