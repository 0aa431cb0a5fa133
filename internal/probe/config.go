package probe

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names accepted by the configuration.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	transportSSE   = "sse"
)

// validSuiteNames is the closed set of suite names --suite may reference.
var validSuiteNames = map[string]bool{
	"auth":          true,
	"lifecycle":     true,
	"jsonrpc":       true,
	"tools":         true,
	"resources":     true,
	"prompts":       true,
	"notifications": true,
	"tasks":         true,
	"edge":          true,
}

// OAuthOptions configures the optional OAuth 2.1 sub-flow of the auth suite.
type OAuthOptions struct {
	// Enabled turns the auth suite's authorization-code flow on. It requires
	// the HTTP transport.
	Enabled bool `yaml:"enabled"`

	// ClientID is the OAuth client identifier presented to the
	// authorization server.
	ClientID string `yaml:"client_id"`

	// RedirectPort is the localhost port the loopback callback listener
	// binds to.
	RedirectPort int `yaml:"redirect_port"`
}

// Config is the single input the engine consumes. It is assembled once by
// the CLI (flags, optionally merged with a YAML file) and handed to
// NewRunner; the engine does not care how it was produced.
type Config struct {
	// Command is the shell command spawning the server (stdio transport).
	Command string

	// URL is the endpoint of a remote server (HTTP transport).
	URL string

	// Transport overrides transport auto-detection ("stdio" or "http").
	Transport string

	// Timeout bounds each individual check's request/response waits.
	Timeout time.Duration

	// Suites restricts the run to the named suites; empty means all.
	// The lifecycle suite always runs, since everything depends on it.
	Suites []string

	// Strict makes WARNING-severity failures fail the run.
	Strict bool

	// Headers are extra HTTP headers sent with every request (HTTP only).
	Headers map[string]string

	// OAuth configures the auth suite.
	OAuth OAuthOptions
}

// configFile is the YAML schema of a config file. It differs from Config
// only in the timeout, which is written as a duration string ("30s").
type configFile struct {
	Command   string            `yaml:"command"`
	URL       string            `yaml:"url"`
	Transport string            `yaml:"transport"`
	Timeout   string            `yaml:"timeout"`
	Suites    []string          `yaml:"suites"`
	Strict    bool              `yaml:"strict"`
	Headers   map[string]string `yaml:"headers"`
	OAuth     OAuthOptions      `yaml:"oauth"`
}

// LoadConfigFile reads a YAML config file into a Config. Flag values are
// merged on top by the CLI.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg := &Config{
		Command:   file.Command,
		URL:       file.URL,
		Transport: file.Transport,
		Suites:    file.Suites,
		Strict:    file.Strict,
		Headers:   file.Headers,
		OAuth:     file.OAuth,
	}
	if file.Timeout != "" {
		timeout, err := time.ParseDuration(file.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout in config file %s: %w", path, err)
		}
		cfg.Timeout = timeout
	}
	return cfg, nil
}

// Validate checks the configuration for the contradictions the CLI contract
// rejects before a run starts.
func (c *Config) Validate() error {
	if c.Command != "" && c.URL != "" {
		return fmt.Errorf("cannot specify both a command and a URL")
	}
	if c.Command == "" && c.URL == "" {
		return fmt.Errorf("must specify either a command or a URL")
	}
	if c.Transport == transportSSE {
		return fmt.Errorf("legacy SSE transport is not supported, use the http transport for Streamable HTTP")
	}
	if c.Transport != "" && c.Transport != TransportStdio && c.Transport != TransportHTTP {
		return fmt.Errorf("unsupported transport %q (stdio, http)", c.Transport)
	}
	if c.Transport == TransportStdio && c.Command == "" {
		return fmt.Errorf("stdio transport requires a command")
	}
	if c.Transport == TransportHTTP && c.URL == "" {
		return fmt.Errorf("http transport requires a URL")
	}
	if c.OAuth.Enabled && c.URL == "" {
		return fmt.Errorf("oauth requires a URL (HTTP transport)")
	}
	for _, name := range c.Suites {
		if !validSuiteNames[name] {
			return fmt.Errorf("unknown suite %q, valid suites: %s", name, strings.Join(suiteNameList(), ", "))
		}
	}
	return nil
}

// TransportName resolves the effective transport for this configuration.
func (c *Config) TransportName() string {
	if c.Transport != "" {
		return c.Transport
	}
	if c.Command != "" {
		return TransportStdio
	}
	return TransportHTTP
}

// Target is the human-readable probe target (command line or URL).
func (c *Config) Target() string {
	if c.Command != "" {
		return c.Command
	}
	return c.URL
}

// EffectiveTimeout returns the per-check timeout, falling back to the
// default.
func (c *Config) EffectiveTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// suiteRequested reports whether a suite should run under the filter.
func (c *Config) suiteRequested(name string) bool {
	if len(c.Suites) == 0 {
		return true
	}
	if name == "lifecycle" {
		return true
	}
	for _, s := range c.Suites {
		if s == name {
			return true
		}
	}
	return false
}

// suiteExplicit reports whether a suite was named explicitly, which forces
// it to run even when the server does not advertise the capability.
func (c *Config) suiteExplicit(name string) bool {
	for _, s := range c.Suites {
		if s == name {
			return true
		}
	}
	return false
}

func suiteNameList() []string {
	names := make([]string, 0, len(validSuiteNames))
	for n := range validSuiteNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseHeader parses one "Name: Value" header flag.
func ParseHeader(raw string) (string, string, error) {
	name, value, ok := strings.Cut(raw, ":")
	if !ok {
		return "", "", fmt.Errorf("invalid header format (expected 'Name: Value'): %s", raw)
	}
	return strings.TrimSpace(name), strings.TrimSpace(value), nil
}
