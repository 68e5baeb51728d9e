package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/skillpath-ai/skillpath-go/internal/api"
	"github.com/skillpath-ai/skillpath-go/internal/config"
	"github.com/skillpath-ai/skillpath-go/internal/credstore"
	"github.com/skillpath-ai/skillpath-go/internal/genai"
	"github.com/skillpath-ai/skillpath-go/internal/realtime"
	"github.com/skillpath-ai/skillpath-go/internal/session"
)

// Version information (set via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Global flags
var (
	configFile string
	logLevel   string
	logFormat  string
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
	ExitConfig  = 3
)

var rootCmd = &cobra.Command{
	Use:   "skillpath",
	Short: "SkillPath AI learning platform client",
	Long: `Command-line client for the SkillPath AI learning platform.

Authenticates against the SkillPath backend, keeps the session and its
token pair on disk, and exposes the platform features: profile and
roadmap management, AI roadmap/tutor/lab generation, and a live metrics
watch over the realtime channel.

Session state is stored per user; access tokens are rotated
transparently when the backend reports them expired.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `Display version, commit hash, and build date.`,
	Run:   runVersion,
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate configuration file",
	Long: `Load and validate the configuration file without contacting the backend.

Checks for:
  - Valid YAML syntax
  - Required fields present
  - Valid URLs and paths
  - Logical consistency

Exit codes:
  0 = Configuration is valid
  3 = Configuration error`,
	RunE: runCheckConfig,
}

// overrideExitCode is set by subcommands so main() can call os.Exit() after
// cobra finishes. This avoids calling os.Exit() inside RunE which would
// bypass deferred functions. -1 means "use default".
var overrideExitCode = -1

func init() {
	// Global flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", defaultConfigPath(),
		"Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error) - overrides config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format (json, text) - overrides config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}

	if overrideExitCode >= 0 {
		os.Exit(overrideExitCode)
	}
}

// defaultConfigPath returns the per-user config file location.
func defaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "skillpath.yaml"
	}
	return filepath.Join(base, "skillpath", "config.yaml")
}

// app bundles the wired client components for one command invocation.
type app struct {
	cfg        *config.Config
	store      *credstore.Store
	client     *api.Client
	channel    *realtime.Channel
	controller *session.Controller
}

// newApp loads configuration, sets up logging, and wires the credential
// store, API client, realtime channel, and session controller together.
// onMetrics may be nil for commands that never touch the realtime channel.
func newApp(onMetrics session.MetricsHandler) (*app, error) {
	cfg, err := config.LoadOrDefault(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Override log settings from flags if provided
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	config.SetupLogging(&cfg.Log)

	store := credstore.New(cfg.Storage.Dir)
	client := api.New(cfg.API, store)
	channel := realtime.New(cfg.Realtime, client.TokenSource())
	controller := session.NewController(store, client, channel, onMetrics)

	return &app{
		cfg:        cfg,
		store:      store,
		client:     client,
		channel:    channel,
		controller: controller,
	}, nil
}

// genaiClient builds the generative-AI client on demand; commands that do
// not generate content never require the API key.
func (a *app) genaiClient() (*genai.Client, error) {
	return genai.New(a.cfg.GenAI)
}

// runVersion displays version information
func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("skillpath version %s\n", version)
	fmt.Printf("  Commit:     %s\n", commit)
	fmt.Printf("  Build date: %s\n", buildDate)
	fmt.Printf("  Go version: %s\n", runtime.Version())
}

// runCheckConfig validates the configuration
func runCheckConfig(cmd *cobra.Command, args []string) error {
	fmt.Printf("Checking configuration: %s\n\n", configFile)

	cfg, err := config.LoadOrDefault(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation failed:\n")
		fmt.Fprintf(os.Stderr, "   %v\n", err)
		overrideExitCode = ExitConfig
		return nil // exit code handled via overrideExitCode
	}

	fmt.Println("Configuration is valid")
	fmt.Println()
	fmt.Println("Configuration summary:")
	fmt.Printf("  API Base URL:     %s\n", cfg.API.BaseURL)
	fmt.Printf("  Request Timeout:  %d seconds\n", cfg.API.RequestTimeout)
	fmt.Printf("  Auth Timeout:     %d seconds\n", cfg.API.AuthTimeout)
	fmt.Printf("  Realtime URL:     %s\n", cfg.Realtime.URL)
	fmt.Printf("  Reconnect Delay:  %d seconds\n", cfg.Realtime.ReconnectDelay)
	fmt.Printf("  GenAI Endpoint:   %s\n", cfg.GenAI.Endpoint)
	fmt.Printf("  GenAI Model:      %s\n", cfg.GenAI.Model)
	fmt.Printf("  Storage Dir:      %s\n", cfg.Storage.Dir)
	fmt.Printf("  Log Level:        %s\n", cfg.Log.Level)
	fmt.Printf("  Log Format:       %s\n", cfg.Log.Format)

	if cfg.GenAI.APIKey != "" {
		fmt.Println("\n  GenAI API Key:    [SET]")
	} else {
		fmt.Println("\n  GenAI API Key:    [NOT SET] (generation commands will fail)")
	}

	return nil
}
