package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/pagebuild/internal/registry"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve NAME...",
	Short: "Print the bundle file name of components",
	Long: `Look each component name up in the metadata file and print its bundle
file name, one per line. Unregistered components fall back to the naming
convention with a warning, or fail with --strict.

Examples:
  pagebuild resolve RegisterPage            # register.page.js
  pagebuild resolve --strict UserProfilePage
  pagebuild resolve -o json HomePage`,
	Args: cobra.MinimumNArgs(1),
	PreRun: func(cmd *cobra.Command, args []string) {
		bindFlags(cmd.Flags(), map[string]string{"strict": "strict"})
	},
	RunE: runResolve,
}

var resolveFormat string

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().Bool("strict", false, "fail for components missing from the metadata file")
	resolveCmd.Flags().StringVarP(&resolveFormat, "output", "o", "text", "output format (text, json)")

	AddFlagValidation(resolveCmd.Flags(), "output", func(format string) error {
		return ValidateFormat(format, []string{"text", "json"})
	})
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())
	ctx := commandContext(cmd)

	resolver := registry.NewResolver(
		registry.FileLookup(ctx, cfg.MetadataPath, logger),
		registry.ResolverOptions{Strict: cfg.Strict, Suffix: cfg.Suffix},
		logger,
	)

	asJSON := strings.EqualFold(resolveFormat, "json")
	resolved := make(map[string]string, len(args))
	for _, name := range args {
		script, err := resolver.Resolve(ctx, name)
		if err != nil {
			return err
		}
		resolved[name] = script
		if !asJSON {
			fmt.Fprintln(cmd.OutOrStdout(), script)
		}
	}

	if asJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(resolved)
	}
	return nil
}
