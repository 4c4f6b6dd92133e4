// Package template renders message text with execution variables.
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/ogabrielsv/creatye/pkg/models"
)

// RenderMessage renders text against the execution: {{ .recipient_id }}, {{ .context.<key> }}
// and {{ .execution.id }} are available.
func RenderMessage(text string, execution *models.Execution) (string, error) {
	if !NeedsTemplating(text) {
		return text, nil
	}

	context := execution.Context
	if context == nil {
		context = map[string]any{}
	}

	data := map[string]any{
		"recipient_id": execution.RecipientID,
		"context":      context,
		"execution": map[string]any{
			"id":            execution.ID,
			"automation_id": execution.AutomationID,
			"version_id":    execution.VersionID,
		},
	}

	return Render(text, data)
}

func Render(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("message").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"default": func(fallback string, value any) any {
				if value == nil {
					return fallback
				}

				if s, ok := value.(string); ok && s == "" {
					return fallback
				}

				return value
			},
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

// NeedsTemplating reports whether the input contains template actions.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}
