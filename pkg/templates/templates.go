package templates

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// Template names
const (
	RegressionReport = "regression-report"
	RegressionNotice = "regression-notice"
)

//go:embed defaults/*.template
var defaults embed.FS

// TemplateData holds variables for placeholder rendering.
type TemplateData map[string]string

// GetTemplatePaths returns the search paths for template overrides
func GetTemplatePaths(templateName string) []string {
	filename := templateName + ".template"
	return []string{
		filepath.Join(".", "templates", filename),
		filepath.Join(".", "config", "templates", filename),
		filepath.Join("/etc", "teststability", "templates", filename),
	}
}

// GetTemplate returns the raw template content by name.
// Overrides are looked up in the following order, falling back to the
// built-in default:
// 1. ./templates/<name>.template
// 2. ./config/templates/<name>.template
// 3. /etc/teststability/templates/<name>.template
func GetTemplate(name string) (string, error) {
	if !ValidateTemplate(name) {
		return "", fmt.Errorf("unknown template: %s", name)
	}

	for _, path := range GetTemplatePaths(name) {
		if content, err := os.ReadFile(path); err == nil {
			return string(content), nil
		}
	}

	content, err := defaults.ReadFile("defaults/" + name + ".template")
	if err != nil {
		return "", fmt.Errorf("template file not found: %s: %w", name, err)
	}
	return string(content), nil
}

// Render renders a template with {{PLACEHOLDER}} substitution.
//
// Example:
//
//	rendered, err := Render(RegressionNotice, TemplateData{
//		"COUNT":  "2",
//		"AUTHOR": "alice",
//	})
func Render(templateName string, data TemplateData) (string, error) {
	tmplContent, err := GetTemplate(templateName)
	if err != nil {
		return "", err
	}

	rendered := tmplContent
	for key, value := range data {
		placeholder := fmt.Sprintf("{{%s}}", key)
		rendered = strings.ReplaceAll(rendered, placeholder, value)
	}

	return rendered, nil
}

// RenderWithGoTemplate renders a template using text/template, for
// templates that loop over their data.
func RenderWithGoTemplate(templateName string, data interface{}) (string, error) {
	tmplContent, err := GetTemplate(templateName)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New(templateName).Parse(tmplContent)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// ListTemplates returns a list of all available template names.
func ListTemplates() []string {
	return []string{
		RegressionReport,
		RegressionNotice,
	}
}

// ValidateTemplate checks if a template name is valid.
func ValidateTemplate(name string) bool {
	validNames := map[string]bool{
		RegressionReport: true,
		RegressionNotice: true,
	}
	return validNames[name]
}
