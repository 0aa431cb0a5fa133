package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mcp-probe/internal/probe"
)

var (
	version string

	serverURL     string
	transportName string
	timeout       time.Duration
	suites        []string
	format        string
	outputPath    string
	strict        bool
	verbose       bool
	noColor       bool
	jsonRPC       bool
	headers       []string
	configPath    string

	oauthEnabled      bool
	oauthClientID     string
	oauthRedirectPort int
)

// exitCodeError carries a non-zero exit code out of cobra without printing
// a redundant error message.
type exitCodeError struct{ code int }

func (e exitCodeError) Error() string { return fmt.Sprintf("exit code %d", e.code) }

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mcp-probe [flags] [-- server-command]",
	Short: "MCP server protocol compliance validator",
	Long: `mcp-probe validates an MCP (Model Context Protocol) server against the
protocol specification. It connects to the server, performs the initialize
handshake, and runs a catalog of compliance checks covering the lifecycle,
JSON-RPC conformance, tools, resources, prompts, notifications, tasks,
authorization, and edge cases.

Targets are either a local server command (spawned over stdio):

  mcp-probe -- npx my-mcp-server --flag
  mcp-probe "python server.py"

or a remote server over Streamable HTTP:

  mcp-probe --url https://mcp.example.com/mcp

Each check reports PASS, FAIL, WARN, SKIP, or INFO. The process exits 0
when the server is compliant, 1 on compliance failures, and 2 when the
probe itself could not run (bad flags, unreachable server).`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runProbe,
}

// Execute runs the root command and maps its outcome to the process exit
// code: 0 compliant, 1 compliance failure, 2 usage or connection error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
}

// SetVersion sets the version for the application
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "url", "", "MCP server endpoint URL (Streamable HTTP transport)")
	rootCmd.Flags().StringVar(&transportName, "transport", "", "Transport to use: stdio or http (auto-detected from target)")
	rootCmd.Flags().DurationVar(&timeout, "timeout", probe.DefaultTimeout, "Per-check request timeout")
	rootCmd.Flags().StringSliceVar(&suites, "suite", nil, "Run only the named suites (repeatable); lifecycle always runs")
	rootCmd.Flags().StringVar(&format, "format", "console", "Report format: console or json")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the report to a file instead of stdout")
	rootCmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as failures for the exit code")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging and show details for passing checks")
	rootCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.Flags().BoolVar(&jsonRPC, "json-rpc", false, "Log every JSON-RPC message exchanged with the server")
	rootCmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Extra HTTP header ('Name: Value', repeatable)")
	rootCmd.Flags().StringVar(&configPath, "config", "", "YAML config file; flags override its values")

	rootCmd.Flags().BoolVar(&oauthEnabled, "oauth", false, "Enable the OAuth 2.1 authorization flow checks (HTTP only)")
	rootCmd.Flags().StringVar(&oauthClientID, "client-id", "mcp-probe", "OAuth client ID for the authorization flow")
	rootCmd.Flags().IntVar(&oauthRedirectPort, "redirect-port", 8765, "Localhost port for the OAuth redirect listener")

	rootCmd.AddCommand(newSelfUpdateCmd())
}

// buildConfig assembles the engine configuration from the optional config
// file plus flags. A flag explicitly set on the command line wins over the
// file.
func buildConfig(cmd *cobra.Command, args []string) (*probe.Config, error) {
	cfg := &probe.Config{}
	if configPath != "" {
		loaded, err := probe.LoadConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if len(args) > 0 {
		command := args[0]
		for _, arg := range args[1:] {
			command += " " + arg
		}
		cfg.Command = command
	}
	if serverURL != "" {
		cfg.URL = serverURL
	}
	if transportName != "" {
		cfg.Transport = transportName
	}
	if cmd.Flags().Changed("timeout") || cfg.Timeout == 0 {
		cfg.Timeout = timeout
	}
	if len(suites) > 0 {
		cfg.Suites = suites
	}
	if cmd.Flags().Changed("strict") {
		cfg.Strict = strict
	}

	if len(headers) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, raw := range headers {
			name, value, err := probe.ParseHeader(raw)
			if err != nil {
				return nil, err
			}
			cfg.Headers[name] = value
		}
	}

	if cmd.Flags().Changed("oauth") {
		cfg.OAuth.Enabled = oauthEnabled
	}
	if cmd.Flags().Changed("client-id") || cfg.OAuth.ClientID == "" {
		cfg.OAuth.ClientID = oauthClientID
	}
	if cmd.Flags().Changed("redirect-port") || cfg.OAuth.RedirectPort == 0 {
		cfg.OAuth.RedirectPort = oauthRedirectPort
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupSignalHandler cancels the run context on interrupt so transports and
// subprocesses are released on the way out.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, shutting down gracefully...")
		cancel()
	}()
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	setupSignalHandler(cancel)

	logger := probe.NewLogger(verbose, !noColor, jsonRPC)

	runner := probe.NewRunner(cfg, logger)
	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	rendered, err := probe.FormatReport(report, format, verbose, !noColor)
	if err != nil {
		return err
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, []byte(rendered+"\n"), 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		logger.Success("Report written to %s", outputPath)
	} else {
		fmt.Println(rendered)
	}

	if code := probe.ExitCode(report, cfg.Strict); code != 0 {
		return exitCodeError{code: code}
	}
	return nil
}
