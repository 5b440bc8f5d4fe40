package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/adamancini/updraft/internal/config"
	"github.com/adamancini/updraft/internal/interactive"
	"github.com/adamancini/updraft/internal/templates"
	"github.com/adamancini/updraft/internal/update"
)

func newInitCmd() *cobra.Command {
	var (
		templateName string
		outputPath   string
		force        bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config or descriptor from a template",
		Long: `Init writes a starter file from a built-in template.

Available templates:
  minimal     - App root and share directory only (TOML)
  full        - Every option with its default (YAML)
  descriptor  - Sample update descriptor (JSON)

Config templates are written to $XDG_CONFIG_HOME/updraft/ and the descriptor
to ./update.json unless --output is given.

Examples:
  updraft init
  updraft init --template full
  updraft init --template descriptor --output next.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, templateName, outputPath, force)
		},
	}

	cmd.Flags().StringVarP(&templateName, "template", "t", "minimal", "Template name")
	cmd.Flags().StringVar(&outputPath, "output", "", "Output path")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	// Register completion for template flag
	_ = cmd.RegisterFlagCompletionFunc("template", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		var completions []string
		for _, name := range templates.List() {
			completions = append(completions, fmt.Sprintf("%s\t%s", name, templates.GetDescription(name)))
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

// runInit executes the init workflow.
func runInit(cmd *cobra.Command, templateName, outputPath string, force bool) error {
	tmpl, err := templates.Get(templateName)
	if err != nil {
		return err
	}

	// Validate the template content before writing
	if err := validateTemplate(tmpl); err != nil {
		return fmt.Errorf("invalid template %s: %w", tmpl.Name, err)
	}

	if outputPath == "" {
		if outputPath, err = defaultInitPath(tmpl); err != nil {
			return err
		}
	}

	if _, err := os.Stat(outputPath); err == nil && !force {
		if !interactive.IsTerminal() {
			return fmt.Errorf("%s already exists (use --force to overwrite)", outputPath)
		}
		p := interactive.NewPrompterWithIO(cmd.InOrStdin(), cmd.ErrOrStderr())
		if !p.Confirm("%s already exists. Overwrite?", outputPath) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(outputPath, tmpl.Content, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created %s from the '%s' template\n", outputPath, tmpl.Name)
	return nil
}

// defaultInitPath is where init writes tmpl without --output.
func defaultInitPath(tmpl *templates.Template) (string, error) {
	if tmpl.Kind == templates.KindDescriptor {
		return "update" + tmpl.Ext(), nil
	}

	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "updraft", "updraft"+tmpl.Ext()), nil
}

// validateTemplate parses the template as the file it will become.
func validateTemplate(tmpl *templates.Template) error {
	switch tmpl.Kind {
	case templates.KindDescriptor:
		var record update.Record
		if err := config.Decode(tmpl.FileName, tmpl.Content, &record); err != nil {
			return err
		}
		_, err := record.Descriptor()
		return err
	default:
		c := config.Default()
		if err := config.Decode(tmpl.FileName, tmpl.Content, c); err != nil {
			return err
		}
		return config.Validate(c)
	}
}
