//nolint:forbidigo // CLI command needs fmt.Print* for user output
package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flightdeck/flightdeck/internal/config"
	"github.com/flightdeck/flightdeck/internal/system"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage flightdeck configuration",
		Long:  "View and validate flightdeck configuration settings",
	}

	cmd.AddCommand(
		newConfigShowCommand(),
		newConfigPathsCommand(),
		newConfigValidateCommand(),
	)

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  "Display the current configuration from defaults and environment variables, with credentials redacted",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadStandardConfig()
			if err != nil {
				return err
			}

			redacted := redactConfig(cfg)

			switch format {
			case "json":
				return displayConfigJSON(redacted)
			case "table":
				return displayConfigTable(redacted)
			default:
				return fmt.Errorf("unknown format: %s. Supported formats: table, json", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format (table, json)")

	return cmd
}

func newConfigPathsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paths",
		Short: "Show all storage paths",
		Long:  "Display all configured storage paths and check if they exist",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadStandardConfig()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PATH TYPE\tLOCATION\tSTATUS")
			fmt.Fprintln(w, "---------\t--------\t------")

			checkPath(w, "State Directory", cfg.StateDir)
			checkPath(w, "State Store Path", cfg.StateStore.File.Path)
			checkPath(w, "Manifest", cfg.ManifestPath)
			checkPath(w, "Run Log", system.RunLogPath(cfg))

			// Log file may be empty, meaning stdout
			if cfg.GetLogPath() != "" {
				checkPath(w, "Log File", cfg.GetLogPath())
			} else {
				fmt.Fprintf(w, "Log File\tstdout\tN/A\n")
			}

			checkPath(w, "PID File", cfg.PIDFile)

			fmt.Fprintf(w, "Config Info File\t%s\tTEMP\n", filepath.Join(os.TempDir(), "flightdeck.info"))

			w.Flush()

			return nil
		},
	}

	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Long:  "Check that the configuration is valid, directories are writable, and the manifest parses",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadStandardConfig()
			if err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}

			fmt.Println("✓ Configuration is valid")

			fmt.Println("\nChecking directories and manifest...")

			failures := 0

			if err := checkDirWritable(cfg.StateDir); err != nil {
				fmt.Printf("✗ State Directory (%s): %v\n", cfg.StateDir, err)
				failures++
			} else {
				fmt.Printf("✓ State Directory (%s): writable\n", cfg.StateDir)
			}

			if cfg.GetLogPath() != "" {
				logDir := filepath.Dir(cfg.GetLogPath())
				if err := checkDirWritable(logDir); err != nil {
					fmt.Printf("✗ Log Directory (%s): %v\n", logDir, err)
					failures++
				} else {
					fmt.Printf("✓ Log Directory (%s): writable\n", logDir)
				}
			}

			if manifest, err := config.LoadManifest(cfg.ManifestPath); err != nil {
				fmt.Printf("✗ Manifest (%s): %v\n", cfg.ManifestPath, err)
				failures++
			} else {
				fmt.Printf("✓ Manifest (%s): %d environment(s): %s\n",
					cfg.ManifestPath, len(manifest.Environments), strings.Join(manifest.EnvironmentNames(), ", "))
			}

			if failures > 0 {
				return fmt.Errorf("found %d configuration errors", failures)
			}

			fmt.Println("\n✓ All configuration checks passed")
			return nil
		},
	}

	return cmd
}

// Helper functions

// redactConfig returns a copy safe to print. The Redis URL may embed
// credentials; everything else in the config is paths and switches.
func redactConfig(cfg *config.Config) *config.Config {
	redacted := *cfg
	redacted.Queue.RedisURL = redactRedisURL(cfg.Queue.RedisURL)
	return &redacted
}

func redactRedisURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "(redacted)"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}

func displayConfigJSON(cfg *config.Config) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

func displayConfigTable(cfg *config.Config) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "SETTING\tVALUE")
	fmt.Fprintln(w, "-------\t-----")

	fmt.Fprintf(w, "Port\t%d\n", cfg.Port)
	fmt.Fprintf(w, "Debug\t%t\n", cfg.Debug)

	fmt.Fprintf(w, "State Directory\t%s\n", cfg.StateDir)
	fmt.Fprintf(w, "Log File\t%s\n", cfg.GetLogPath())
	fmt.Fprintf(w, "Manifest\t%s\n", cfg.ManifestPath)

	fmt.Fprintf(w, "State Store Type\t%s\n", cfg.StateStore.Type)
	fmt.Fprintf(w, "State Store Path\t%s\n", cfg.StateStore.File.Path)

	fmt.Fprintf(w, "Queue Type\t%s\n", cfg.Queue.Type)
	if cfg.Queue.RedisURL != "" {
		fmt.Fprintf(w, "Redis URL\t%s\n", cfg.Queue.RedisURL)
	}

	fmt.Fprintf(w, "Daemon Mode\t%t\n", cfg.DaemonMode)
	fmt.Fprintf(w, "PID File\t%s\n", cfg.PIDFile)

	w.Flush()

	fmt.Println("\nEnvironment Variables:")
	printEnvironmentVariables(cfg)

	return nil
}

// printEnvironmentVariables prints every environment variable declared
// via struct tags
func printEnvironmentVariables(cfg *config.Config) {
	vars := collectEnvVars(reflect.TypeOf(*cfg), reflect.ValueOf(*cfg))

	maxLen := 0
	for _, v := range vars {
		if len(v.name) > maxLen {
			maxLen = len(v.name)
		}
	}

	for _, v := range vars {
		fmt.Printf("  %-*s - %s\n", maxLen, v.name, v.description)
	}
}

// collectEnvVars recursively collects environment variables from struct tags
func collectEnvVars(t reflect.Type, v reflect.Value) []struct{ name, description string } {
	var vars []struct{ name, description string }

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldValue := v.Field(i)

		if envTag := field.Tag.Get("env"); envTag != "" {
			desc := field.Tag.Get("desc")
			if desc == "" {
				desc = strings.Join(camelCaseToWords(field.Name), " ")
			}
			vars = append(vars, struct{ name, description string }{
				name:        envTag,
				description: desc,
			})
		}

		if field.Type.Kind() == reflect.Struct {
			vars = append(vars, collectEnvVars(field.Type, fieldValue)...)
		}
	}

	return vars
}

// camelCaseToWords converts CamelCase to space-separated words
func camelCaseToWords(s string) []string {
	var words []string
	var currentWord []rune

	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			if len(currentWord) > 0 {
				words = append(words, string(currentWord))
			}
			currentWord = []rune{r}
		} else {
			currentWord = append(currentWord, r)
		}
	}

	if len(currentWord) > 0 {
		words = append(words, string(currentWord))
	}

	return words
}

func checkPath(w *tabwriter.Writer, name, path string) {
	if path == "" {
		fmt.Fprintf(w, "%s\t(not configured)\tN/A\n", name)
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(w, "%s\t%s\tNOT FOUND\n", name, path)
		} else {
			fmt.Fprintf(w, "%s\t%s\tERROR: %v\n", name, path, err)
		}
		return
	}

	if info.IsDir() {
		fmt.Fprintf(w, "%s\t%s\tEXISTS (dir)\n", name, path)
	} else {
		fmt.Fprintf(w, "%s\t%s\tEXISTS (file, %d bytes)\n", name, path, info.Size())
	}
}

// checkDirWritable verifies a directory exists and accepts writes
func checkDirWritable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("does not exist")
		}
		return fmt.Errorf("failed to check directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("exists but is not a directory")
	}

	tempFile := filepath.Join(path, ".write_test")
	file, err := os.Create(tempFile) // #nosec G304 -- tempFile is constructed from safe path components
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	_ = file.Close()
	_ = os.Remove(tempFile)

	return nil
}
