// internal/service/template_service.go
package service

import (
	"strings"

	"github.com/unclebandit/outreach-orchestrator/internal/model"
)

// RenderTemplate replaces every {key} in template with data[key].
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// TargetFields are the placeholders available to a campaign template.
func TargetFields(t model.TargetEntity) map[string]string {
	fields := map[string]string{
		"name":     t.Name,
		"email":    t.Email,
		"industry": t.Industry,
		"vertical": t.Vertical,
		"city":     t.City,
	}
	for k, v := range fields {
		if strings.TrimSpace(v) == "" {
			fields[k] = "N/A"
		}
	}
	return fields
}

// FillTargetFields is a Renderer that fills target placeholders in the
// already-rendered upstream template.
func FillTargetFields(template string, t model.TargetEntity) string {
	return RenderTemplate(template, TargetFields(t))
}
