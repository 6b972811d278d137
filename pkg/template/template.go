// Package template generates ready-to-edit run specs for common agent and
// shell workloads. The output is the JSON body accepted by `composr start
// --file` and the server's /start endpoint.
package template

import (
	"encoding/json"
	"fmt"
)

// TemplateType represents the type of template to generate
type TemplateType string

const (
	TypeClaude TemplateType = "claude"
	TypeCodex  TemplateType = "codex"
	TypeGemini TemplateType = "gemini"
	TypeAider  TemplateType = "aider"
	TypeShell  TemplateType = "shell"
	TypeBasic  TemplateType = "basic"
)

// RunTemplate is a run spec skeleton. It marshals to the same JSON shape as
// the manager's spec, so generated files can be fed straight back in.
type RunTemplate struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	WorkDir string   `json:"work_dir,omitempty"`
	Env     []string `json:"env,omitempty"`
}

// Generator provides template generation functionality
type Generator struct{}

// NewGenerator creates a new template generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate creates a run template based on the specified type and name
func (g *Generator) Generate(templateType TemplateType, name string) (*RunTemplate, error) {
	switch templateType {
	case TypeClaude:
		return g.generateClaudeTemplate(name), nil
	case TypeCodex:
		return g.generateCodexTemplate(name), nil
	case TypeGemini:
		return g.generateGeminiTemplate(name), nil
	case TypeAider:
		return g.generateAiderTemplate(name), nil
	case TypeShell, TypeBasic:
		return g.generateShellTemplate(name), nil
	default:
		return nil, fmt.Errorf("unknown template type: %s (supported: claude, codex, gemini, aider, shell)", templateType)
	}
}

// GenerateJSON creates an indented JSON representation of the template
func (g *Generator) GenerateJSON(templateType TemplateType, name string) ([]byte, error) {
	tmpl, err := g.Generate(templateType, name)
	if err != nil {
		return nil, err
	}
	jsonData, err := json.MarshalIndent(tmpl, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return jsonData, nil
}

// GetSupportedTypes returns a list of all supported template types
func (g *Generator) GetSupportedTypes() []string {
	return []string{
		string(TypeClaude),
		string(TypeCodex),
		string(TypeGemini),
		string(TypeAider),
		string(TypeShell),
	}
}

// Helper functions to create specific templates

func (g *Generator) generateClaudeTemplate(name string) *RunTemplate {
	return &RunTemplate{
		Name:    name,
		Command: "claude --dangerously-skip-permissions",
		Env: []string{
			"TERM=xterm-256color",
			"CLAUDE_CODE_DISABLE_AUTO_UPDATE=1",
		},
	}
}

func (g *Generator) generateCodexTemplate(name string) *RunTemplate {
	return &RunTemplate{
		Name:    name,
		Command: "codex --full-auto",
		Env: []string{
			"TERM=xterm-256color",
		},
	}
}

func (g *Generator) generateGeminiTemplate(name string) *RunTemplate {
	return &RunTemplate{
		Name:    name,
		Command: "gemini --yolo",
		Env: []string{
			"TERM=xterm-256color",
		},
	}
}

func (g *Generator) generateAiderTemplate(name string) *RunTemplate {
	return &RunTemplate{
		Name:    name,
		Command: "aider --yes-always --no-auto-commits",
		Env: []string{
			"TERM=xterm-256color",
			"AIDER_CHECK_UPDATE=false",
		},
	}
}

func (g *Generator) generateShellTemplate(name string) *RunTemplate {
	return &RunTemplate{
		Name:    name,
		Command: "bash -l",
		Env: []string{
			"TERM=xterm-256color",
		},
	}
}
