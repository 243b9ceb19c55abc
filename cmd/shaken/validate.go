package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/keepmind9/shaken/internal/core"
)

var (
	validateConfig string
	validateJSON   bool
)

// ValidationResult represents the validation result
type ValidationResult struct {
	Valid     bool     `json:"valid"`
	Config    string   `json:"config"`
	Manifest  string   `json:"manifest,omitempty"`
	Channels  int      `json:"channels"`
	Commands  int      `json:"commands"`
	Listeners int      `json:"listeners"`
	Errors    []string `json:"errors,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and manifest",
	Long: `Validate the shaken configuration file and compile the Lua manifest
without connecting to chat.

This command checks:
  - YAML syntax
  - Required fields
  - Manifest evaluation
  - Command rows and argument templates

Exit codes:
  0 - Configuration and manifest are valid
  1 - Errors or manifest problems were found`,
	Run: func(cmd *cobra.Command, args []string) {
		configFile := validateConfig
		if configFile == "" {
			configFile = findConfig()
		}
		if configFile == "" {
			fmt.Println("❌ No configuration file found")
			fmt.Println("\nSpecify a config file with --config or ensure one exists at:")
			for _, loc := range defaultConfigLocations() {
				fmt.Printf("  - %s\n", loc)
			}
			os.Exit(1)
		}

		result := validate(cmd.Context(), configFile)
		outputValidationResult(cmd.OutOrStdout(), result, validateJSON)
		if !result.Valid {
			os.Exit(1)
		}
	},
}

func defaultConfigLocations() []string {
	return []string{
		"config.yaml",
		filepath.Join(os.Getenv("HOME"), ".config/shaken/config.yaml"),
		"/etc/shaken/config.yaml",
	}
}

func findConfig() string {
	for _, loc := range defaultConfigLocations() {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

func validate(ctx context.Context, configFile string) ValidationResult {
	result := ValidationResult{Config: configFile}

	cfg, err := core.LoadConfig(configFile)
	if err != nil {
		result.Errors = []string{err.Error()}
		return result
	}
	result.Manifest = cfg.ManifestPath()
	result.Channels = len(cfg.Twitch.Channels)

	report, err := core.Validate(ctx, cfg)
	if err != nil {
		result.Errors = []string{err.Error()}
		return result
	}
	result.Commands = report.Commands
	result.Listeners = report.Listeners
	result.Warnings = report.Problems
	result.Valid = report.OK()
	return result
}

func outputValidationResult(w io.Writer, result ValidationResult, jsonFormat bool) {
	if jsonFormat {
		output, err := json.Marshal(result)
		if err != nil {
			fmt.Fprintf(w, "{\"error\": \"failed to marshal json: %v\"}\n", err)
			return
		}
		fmt.Fprintln(w, string(output))
		return
	}

	if result.Valid {
		fmt.Fprintln(w, "✓ Configuration is valid")
		fmt.Fprintf(w, "  - Config: %s\n", result.Config)
		fmt.Fprintf(w, "  - Manifest: %s\n", result.Manifest)
		fmt.Fprintf(w, "  - Channels: %d\n", result.Channels)
		fmt.Fprintf(w, "  - Commands: %d\n", result.Commands)
		fmt.Fprintf(w, "  - Listeners: %d\n", result.Listeners)
		return
	}

	fmt.Fprintln(w, "❌ Validation failed:")
	if len(result.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, errMsg := range result.Errors {
			fmt.Fprintf(w, "  - %s\n", errMsg)
		}
	}
	if len(result.Warnings) > 0 {
		fmt.Fprintln(w, "\nManifest problems:")
		for _, warning := range result.Warnings {
			fmt.Fprintf(w, "  - %s\n", warning)
		}
	}
}

func init() {
	validateCmd.Flags().StringVarP(&validateConfig, "config", "c", "", "Configuration file path")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Output in JSON format")
}
