// config.go
// ----------
// This file defines Config, the construction-time settings of a Client: credentials, base URL,
// user agent, request quota and the optional collaborators (HTTP doer, logger, metrics registry,
// filesystem for uploads).
//
// Config can be built in code, or loaded from an HCL, JSON or YAML file and then overlaid with
// ANVIL_* environment variables.
package anvilbridge

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL = "https://app.useanvil.com"

	EnvAPIKey      = "ANVIL_API_KEY"
	EnvAccessToken = "ANVIL_ACCESS_TOKEN"
	EnvBaseURL     = "ANVIL_BASE_URL"
)

type Config struct {
	// Exactly one of APIKey and AccessToken must be set.
	APIKey      string
	AccessToken string

	BaseURL   string
	UserAgent string

	RequestLimit       int           // requests allowed per window
	RequestLimitWindow time.Duration // window over which RequestLimit refills

	HTTPClient        HTTPDoer              // defaults to http.DefaultClient
	Logger            hclog.Logger          // defaults to a null logger
	MetricsRegisterer prometheus.Registerer // metrics are disabled when nil
	Fs                afero.Fs              // used by Client.PrepareFile, defaults to the OS filesystem
}

// DefaultConfig returns a Config with the production quota and base URL and no credentials.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            DefaultBaseURL,
		UserAgent:          DefaultUserAgent(),
		RequestLimit:       DefaultRequestLimit,
		RequestLimitWindow: DefaultRequestLimitMS * time.Millisecond,
	}
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent()
	}
	if c.RequestLimit == 0 {
		c.RequestLimit = DefaultRequestLimit
	}
	if c.RequestLimitWindow == 0 {
		c.RequestLimitWindow = DefaultRequestLimitMS * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = hclog.NewNullLogger()
	}
	if c.Fs == nil {
		c.Fs = afero.NewOsFs()
	}
}

// Validate checks the credentials, the base URL and the quota.
func (c *Config) Validate() error {
	if _, err := authorizationHeader(c.APIKey, c.AccessToken); err != nil {
		return err
	}
	err := validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, validation.By(httpURL)),
		validation.Field(&c.RequestLimit, validation.Min(1)),
		validation.Field(&c.RequestLimitWindow, validation.Min(time.Millisecond)),
	)
	if err != nil {
		return &ConfigurationError{Field: "config", Message: err.Error(), Err: err}
	}
	return nil
}

func httpURL(value interface{}) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("must include a host")
	}
	return nil
}

// fileConfig is the on-disk form of Config.
type fileConfig struct {
	APIKey         string `hcl:"api_key,optional" yaml:"api_key"`
	AccessToken    string `hcl:"access_token,optional" yaml:"access_token"`
	BaseURL        string `hcl:"base_url,optional" yaml:"base_url"`
	UserAgent      string `hcl:"user_agent,optional" yaml:"user_agent"`
	RequestLimit   int    `hcl:"request_limit,optional" yaml:"request_limit"`
	RequestLimitMS int    `hcl:"request_limit_ms,optional" yaml:"request_limit_ms"`
}

// LoadConfigFile reads a Config from an .hcl, .json, .yaml or .yml file. Unset values keep
// their defaults.
func LoadConfigFile(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("configuration file path is required")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", path)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl", ".json":
		if err := hclsimple.DecodeFile(path, nil, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file: %w", err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported configuration file type: %s", path)
	}

	cfg := DefaultConfig()
	cfg.APIKey = fc.APIKey
	cfg.AccessToken = fc.AccessToken
	if fc.BaseURL != "" {
		cfg.BaseURL = fc.BaseURL
	}
	if fc.UserAgent != "" {
		cfg.UserAgent = fc.UserAgent
	}
	if fc.RequestLimit != 0 {
		cfg.RequestLimit = fc.RequestLimit
	}
	if fc.RequestLimitMS != 0 {
		cfg.RequestLimitWindow = time.Duration(fc.RequestLimitMS) * time.Millisecond
	}
	return cfg, nil
}

// ApplyEnv overlays ANVIL_API_KEY, ANVIL_ACCESS_TOKEN and ANVIL_BASE_URL. A credential found in
// the environment replaces both credential fields.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.APIKey, c.AccessToken = v, ""
	} else if v := os.Getenv(EnvAccessToken); v != "" {
		c.APIKey, c.AccessToken = "", v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.BaseURL = v
	}
}
