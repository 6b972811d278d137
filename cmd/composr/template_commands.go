package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/composr/pkg/template"
	"github.com/spf13/cobra"
)

// templatesDirectory is where generated spec files land by default.
func (c *command) templatesDirectory() string {
	return "templates"
}

// TemplateCreate generates a run spec file for a known agent type.
func (c *command) TemplateCreate(f TemplateCreateFlags) error {
	templateName := f.Name
	if templateName == "" {
		templateName = f.Type + "-sample"
	}

	outputPath := f.Output
	if outputPath == "" {
		templatesDir := c.templatesDirectory()
		if err := os.MkdirAll(templatesDir, 0o755); err != nil {
			return fmt.Errorf("failed to create templates directory: %w", err)
		}
		outputPath = filepath.Join(templatesDir, templateName+".json")
	}

	if _, err := os.Stat(outputPath); err == nil && !f.Force {
		return fmt.Errorf("template file '%s' already exists (use --force to overwrite)", outputPath)
	}

	generator := template.NewGenerator()
	content, err := generator.GenerateJSON(template.TemplateType(f.Type), templateName)
	if err != nil {
		return fmt.Errorf("failed to generate template: %w", err)
	}

	if err := os.WriteFile(outputPath, content, 0o644); err != nil {
		return fmt.Errorf("failed to write template file: %w", err)
	}

	fmt.Printf("Template '%s' created: %s\n", templateName, outputPath)
	fmt.Printf("Edit the spec and start it with: composr start --file=%s\n", outputPath)
	return nil
}

// createTemplateCommand creates the template subcommand
func createTemplateCommand(composrCommand command, flags *TemplateCreateFlags) *cobra.Command {
	supported := strings.Join(template.NewGenerator().GetSupportedTypes(), ", ")
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Generate a run spec file",
		Long: fmt.Sprintf(`Generate a JSON run spec for a known agent type (%s).
The generated file can be edited and launched with 'composr start --file'.

Examples:
  composr template --type=claude
  composr template --type=aider --name=refactor --output=./refactor.json`, supported),
		RunE: func(cmd *cobra.Command, args []string) error {
			return composrCommand.TemplateCreate(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Type, "type", "shell", "template type ("+supported+")")
	cmd.Flags().StringVar(&flags.Name, "name", "", "run name (default <type>-sample)")
	cmd.Flags().StringVar(&flags.Output, "output", "", "output file path (default templates/<name>.json)")
	cmd.Flags().BoolVar(&flags.Force, "force", false, "overwrite an existing file")
	return cmd
}
