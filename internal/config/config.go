package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/Azure/azure-resource-graph-mcp/pkg/graph"
)

// ErrVersion is returned by ParseFlags when --version was given.
var ErrVersion = errors.New("version requested")

type Config struct {
	Transport  string
	Host       string
	Port       int
	LogLevel   string
	LogFormat  string
	Timeout    int
	MaxChars   int
	Endpoint   string
	ConfigFile string

	AuthMethod           string
	TenantID             string
	ClientID             string
	FederatedTokenFile   string
	ClientSecret         string
	ManagedIdentityURL   string
	DefaultSubscription  string
	DiscoverSubscription bool

	flags *flag.FlagSet
}

func NewConfig() *Config {
	return &Config{
		Transport: "stdio",
		Host:      "127.0.0.1",
		Port:      8000,
		LogLevel:  "info",
		LogFormat: "text",
		Timeout:   30,
		MaxChars:  graph.DefaultCharacterLimit,
		Endpoint:  graph.DefaultEndpoint,

		AuthMethod:           string(graph.AuthModeAuto),
		DiscoverSubscription: true,
	}
}

// fileConfig mirrors the flags that may be set from --config. Pointers tell
// an absent key from a zero value.
type fileConfig struct {
	Transport            *string `yaml:"transport"`
	Host                 *string `yaml:"host"`
	Port                 *int    `yaml:"port"`
	LogLevel             *string `yaml:"log_level"`
	LogFormat            *string `yaml:"log_format"`
	Timeout              *int    `yaml:"timeout"`
	MaxChars             *int    `yaml:"max_chars"`
	Endpoint             *string `yaml:"endpoint"`
	AuthMethod           *string `yaml:"auth_method"`
	DefaultSubscription  *string `yaml:"default_subscription"`
	DiscoverSubscription *bool   `yaml:"discover_subscription"`
}

func (c *Config) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("azure-resource-graph-mcp", flag.ContinueOnError)
	fs.StringVar(&c.Transport, "transport", c.Transport, "Transport mechanism (stdio, sse, streamable-http)")
	fs.StringVar(&c.Host, "host", c.Host, "Host to listen on (for non-stdio transport)")
	fs.IntVar(&c.Port, "port", c.Port, "Port to listen on (for non-stdio transport)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format (text, json)")
	fs.IntVar(&c.Timeout, "timeout", c.Timeout, "Timeout for each tool invocation in seconds")
	fs.IntVar(&c.MaxChars, "max-chars", c.MaxChars, "Maximum characters in a tool response")
	fs.StringVar(&c.Endpoint, "endpoint", c.Endpoint, "Azure Resource Manager endpoint")
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "Path to a YAML configuration file")
	fs.StringVar(&c.AuthMethod, "auth-method", c.AuthMethod, "Authentication method (auto, cli, service-principal, workload-identity, managed-identity)")
	fs.StringVar(&c.DefaultSubscription, "default-subscription", c.DefaultSubscription, "Subscription used when a request names no scope")
	fs.BoolVar(&c.DiscoverSubscription, "discover-subscription", c.DiscoverSubscription, "Use the Azure CLI's current subscription when no default is configured")

	showHelp := fs.BoolP("help", "h", false, "Show help message")
	showVersion := fs.Bool("version", false, "Show version information")

	c.flags = fs
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showHelp {
		return flag.ErrHelp
	}
	if *showVersion {
		return ErrVersion
	}

	if c.ConfigFile != "" {
		if err := c.loadFile(c.ConfigFile); err != nil {
			return err
		}
	}

	c.loadAuthFromEnv()

	return c.Validate()
}

// Usage returns the flag help text.
func (c *Config) Usage() string {
	if c.flags == nil {
		return ""
	}
	return fmt.Sprintf("Azure Resource Graph MCP Server\n\nUsage:\n%s", c.flags.FlagUsages())
}

// loadFile applies values from a YAML file to every setting not given on the
// command line.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(c, "transport", fc.Transport, &c.Transport)
	setString(c, "host", fc.Host, &c.Host)
	setInt(c, "port", fc.Port, &c.Port)
	setString(c, "log-level", fc.LogLevel, &c.LogLevel)
	setString(c, "log-format", fc.LogFormat, &c.LogFormat)
	setInt(c, "timeout", fc.Timeout, &c.Timeout)
	setInt(c, "max-chars", fc.MaxChars, &c.MaxChars)
	setString(c, "endpoint", fc.Endpoint, &c.Endpoint)
	setString(c, "auth-method", fc.AuthMethod, &c.AuthMethod)
	setString(c, "default-subscription", fc.DefaultSubscription, &c.DefaultSubscription)
	if fc.DiscoverSubscription != nil && !c.changed("discover-subscription") {
		c.DiscoverSubscription = *fc.DiscoverSubscription
	}
	return nil
}

func (c *Config) changed(name string) bool {
	return c.flags != nil && c.flags.Changed(name)
}

func setString(c *Config, name string, v *string, dst *string) {
	if v != nil && !c.changed(name) {
		*dst = *v
	}
}

func setInt(c *Config, name string, v *int, dst *int) {
	if v != nil && !c.changed(name) {
		*dst = *v
	}
}

func (c *Config) loadAuthFromEnv() {
	if c.AuthMethod == string(graph.AuthModeAuto) {
		if method := os.Getenv("AZ_AUTH_METHOD"); method != "" {
			c.AuthMethod = method
		}
	}

	if tenantID := os.Getenv("AZURE_TENANT_ID"); tenantID != "" {
		c.TenantID = tenantID
	}

	if clientID := os.Getenv("AZURE_CLIENT_ID"); clientID != "" {
		c.ClientID = clientID
	}

	if tokenFile := os.Getenv("AZURE_FEDERATED_TOKEN_FILE"); tokenFile != "" {
		c.FederatedTokenFile = tokenFile
	}

	if secret := os.Getenv("AZURE_CLIENT_SECRET"); secret != "" {
		c.ClientSecret = secret
	}

	for _, name := range []string{"IDENTITY_ENDPOINT", "MSI_ENDPOINT"} {
		if endpoint := os.Getenv(name); endpoint != "" {
			c.ManagedIdentityURL = endpoint
			break
		}
	}

	if sub := os.Getenv("AZURE_SUBSCRIPTION_ID"); sub != "" && !c.changed("default-subscription") {
		c.DefaultSubscription = sub
	}

	if port := os.Getenv("PORT"); port != "" && !c.changed("port") {
		if p, err := strconv.Atoi(port); err == nil {
			c.Port = p
		}
	}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be greater than 0")
	}

	validTransports := map[string]bool{
		"stdio":           true,
		"sse":             true,
		"streamable-http": true,
	}

	if !validTransports[c.Transport] {
		return fmt.Errorf("invalid transport: %s (must be stdio, sse, or streamable-http)", c.Transport)
	}

	if c.Transport != "stdio" && (c.Port <= 0 || c.Port > 65535) {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.MaxChars < graph.MinCharacterLimit {
		return fmt.Errorf("max-chars must be at least %d, got %d", graph.MinCharacterLimit, c.MaxChars)
	}

	switch graph.AuthMode(c.AuthMethod) {
	case graph.AuthModeAuto, graph.AuthModeCLI, graph.AuthModeServicePrincipal,
		graph.AuthModeWorkloadIdentity, graph.AuthModeManagedIdentity:
	default:
		return fmt.Errorf("invalid auth method: %s (must be auto, cli, service-principal, workload-identity, or managed-identity)", c.AuthMethod)
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.LogFormat)
	}

	return nil
}

func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c *Config) AuthConfig() graph.AuthConfig {
	return graph.AuthConfig{
		AuthMethod:         graph.AuthMode(c.AuthMethod),
		TenantID:           c.TenantID,
		ClientID:           c.ClientID,
		ClientSecret:       c.ClientSecret,
		FederatedTokenFile: c.FederatedTokenFile,

		ManagedIdentityEndpoint: c.ManagedIdentityURL,
	}
}
