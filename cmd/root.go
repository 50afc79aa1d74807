// Package cmd provides the pagebuild command-line interface.
//
// Configuration is read, lowest priority first, from .pagebuild.yml in the
// working directory (or the file named by --config or PAGEBUILD_CONFIG_FILE),
// from PAGEBUILD_<SECTION>_<OPTION> environment variables and from flags.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/pagebuild/internal/version"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pagebuild",
	Short: "Incremental page bundler with a watch mode",
	Long: `pagebuild bundles every page source below a root directory into a
browser-loadable script, keeps a metadata file mapping component names to
bundles, and rebuilds incrementally while watching for changes.

Quick Start:
  pagebuild build                 Build every page once
  pagebuild watch                 Build, then rebuild on change
  pagebuild watch --serve         Also start the preview server
  pagebuild resolve RegisterPage  Print the bundle of a component
  pagebuild list                  List registered components`,
	SilenceUsage: true,
	Version:      version.Get().Short(),
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .pagebuild.yml, can also use PAGEBUILD_CONFIG_FILE env var)")
	flags.StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.String("root", "", "page source directory (default ./pages)")
	flags.String("suffix", "", "page source suffix (default page.tsx)")
	flags.String("output-dir", "", "bundle output directory (default ./dist)")

	bindFlags(flags, map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
		"root":       "root",
		"suffix":     "suffix",
		"output-dir": "output_dir",
	})

	AddFlagValidation(rootCmd.PersistentFlags(), "log-format", func(format string) error {
		return ValidateFormat(format, []string{"text", "json"})
	})
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("PAGEBUILD_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".pagebuild")
	}

	viper.SetEnvPrefix("PAGEBUILD")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing or malformed file leaves the defaults in place.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
