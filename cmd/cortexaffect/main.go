// Command cortexaffect serves the facial-expression and sentiment pipeline
// that drives the avatar.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/normanking/cortexaffect/internal/config"
	"github.com/normanking/cortexaffect/internal/expression"
	"github.com/normanking/cortexaffect/internal/landmark"
	"github.com/normanking/cortexaffect/internal/logging"
)

var (
	version = "0.1.0"
	cfgPath string
	verbose bool
	cfg     *config.Config
	log     *logging.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cortexaffect",
		Short: "CortexAffect - emotion inference for the Cortex avatar",
		Long: `CortexAffect turns facial landmarks and text sentiment into avatar state:
  • Classifies FaceMesh landmark frames into discrete expressions
  • Rate-limits emotion telemetry to a collector (HTTP or Redis streams)
  • Drives the avatar playback state from sentiment and speech signals

Start the service:   cortexaffect serve
Classify a frame:    cortexaffect classify frame.json
Configuration:       cortexaffect config show
Reset to defaults:   cortexaffect config reset --force`,
		PersistentPreRunE: initLogging,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				log.Close()
			}
		},
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.cortexaffect/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("CortexAffect v%s\n", version)
		},
	})
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOGGING INITIALIZATION
// ═══════════════════════════════════════════════════════════════════════════════

func getConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	path, err := config.DefaultPath()
	if err != nil {
		return "config.yaml"
	}
	return path
}

// loadConfig reads --config when given and the default location otherwise.
func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadFromPath(cfgPath)
	}
	return config.Load()
}

func initLogging(cmd *cobra.Command, args []string) error {
	loaded, err := loadConfig()
	if err != nil {
		return err
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = loaded

	level := logging.ParseLevel(cfg.Logging.Level)
	if verbose {
		level = logging.LevelDebug
	}

	// Only the long-running service writes to the console; one-shot
	// commands keep stdout for their output.
	console := cmd.Name() == "serve" && cfg.Logging.Console

	log, err = logging.New(&logging.Config{
		LogDir:     cfg.Logging.Dir,
		Level:      level,
		MaxHistory: cfg.Logging.MaxHistory,
		Console:    console,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	if verbose {
		log.Debug("main", "Verbose logging enabled", map[string]interface{}{
			"config": getConfigPath(),
		})
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// CLASSIFY COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

type classifyOutput struct {
	Emotion expression.Label `json:"emotion"`
	Rule    string           `json:"rule,omitempty"`
	Ratios  *landmark.Ratios `json:"ratios,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <frame.json|->",
		Short: "Classify a single landmark frame",
		Long: `Reads one FaceMesh frame, either {"landmarks": [...]} or a bare point
array, and prints the extracted ratios and the resulting expression.
Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to read frame: %w", err)
			}

			frame, err := parseFrame(data)
			if err != nil {
				return err
			}

			out := classifyOutput{Emotion: expression.Neutral}
			ratios, err := landmark.Extract(frame)
			if err != nil {
				out.Error = err.Error()
			} else {
				out.Ratios = &ratios
				out.Emotion = expression.Classify(ratios)
				for _, rule := range expression.Rules() {
					if rule.Match(ratios) {
						out.Rule = rule.Name
						break
					}
				}
			}

			log.Debug("classify", "Frame classified", map[string]interface{}{
				"points":  len(frame),
				"emotion": string(out.Emotion),
			})

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func parseFrame(data []byte) (landmark.Frame, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty frame")
	}
	if data[0] == '[' {
		var frame landmark.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("invalid frame: %w", err)
		}
		return frame, nil
	}
	var req struct {
		Landmarks landmark.Frame `json:"landmarks"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}
	return req.Landmarks, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIG COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", getConfigPath(), data)
			return nil
		},
	})

	var force bool
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Overwrite the configuration file with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New("refusing to overwrite configuration without --force")
			}
			path := getConfigPath()
			if err := config.Default().SaveToPath(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
			return nil
		},
	}
	resetCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration file")
	cmd.AddCommand(resetCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), getConfigPath())
		},
	})

	return cmd
}
