package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/pagebuild/internal/registry"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"l"},
	Short:   "List registered components",
	Long: `List the components recorded in the metadata file with their bundle
and source paths.

Examples:
  pagebuild list                  # Table output
  pagebuild list -o json          # Output as JSON
  pagebuild list -o yaml          # Output as YAML`,
	RunE: runList,
}

var listFormat string

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listFormat, "output", "o", "table", "output format (table, json, yaml)")

	AddFlagValidation(listCmd.Flags(), "output", func(format string) error {
		return ValidateFormat(format, []string{"table", "json", "yaml"})
	})
}

// listItem is one component in list output.
type listItem struct {
	Name         string `json:"name" yaml:"name"`
	Script       string `json:"script" yaml:"script"`
	OriginalPath string `json:"original_path" yaml:"original_path"`
	OutputPath   string `json:"output_path" yaml:"output_path"`
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	entries := registry.Load(commandContext(cmd), cfg.MetadataPath, logger)
	items := make([]listItem, 0, len(entries))
	for _, name := range entries.Names() {
		entry := entries[name]
		items = append(items, listItem{
			Name:         name,
			Script:       entry.ScriptFileName,
			OriginalPath: entry.OriginalPath,
			OutputPath:   entry.OutputPath,
		})
	}

	out := cmd.OutOrStdout()
	switch strings.ToLower(listFormat) {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(items)
	case "yaml":
		encoder := yaml.NewEncoder(out)
		defer encoder.Close()
		return encoder.Encode(items)
	case "table":
		return outputTable(out, items)
	default:
		return fmt.Errorf("unsupported format: %s", listFormat)
	}
}

func outputTable(out io.Writer, items []listItem) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(out, "No components registered.")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSCRIPT\tSOURCE")
	fmt.Fprintln(w, "----\t------\t------")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\n", item.Name, item.Script, item.OriginalPath)
	}
	return w.Flush()
}
