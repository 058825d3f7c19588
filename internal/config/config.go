package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models projectops.yml.
type Config struct {
	Parameters map[string]string `yaml:"parameters"`
	Roles      []string          `yaml:"roles"`
	API        struct {
		Addr         string `yaml:"addr"`
		BasePath     string `yaml:"base_path"`
		JWTSecretEnv string `yaml:"jwt_secret_env"`
		TokenTTL     string `yaml:"token_ttl"`
		Metrics      bool   `yaml:"metrics"`
	} `yaml:"api"`
	Storage StorageConfig `yaml:"storage"`
	Log     struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

type StorageConfig struct {
	Kind  string `yaml:"kind"`
	Dir   string `yaml:"dir"`
	Minio struct {
		Endpoint     string `yaml:"endpoint"`
		Bucket       string `yaml:"bucket"`
		AccessKeyEnv string `yaml:"access_key_env"`
		SecretKeyEnv string `yaml:"secret_key_env"`
		UseSSL       bool   `yaml:"use_ssl"`
	} `yaml:"minio"`
}

// Load reads and validates config from workspace, falling back to Default
// when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	for key, value := range c.Parameters {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("config.parameters contains an empty key")
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err != nil {
			return fmt.Errorf("config.parameters.%s must be numeric, got %q", key, value)
		}
	}
	seen := map[string]bool{}
	for _, r := range c.Roles {
		name := strings.TrimSpace(r)
		if name == "" {
			return fmt.Errorf("config.roles contains an empty role")
		}
		if seen[name] {
			return fmt.Errorf("config.roles lists %s twice", name)
		}
		seen[name] = true
	}
	if c.API.BasePath != "" && !strings.HasPrefix(c.API.BasePath, "/") {
		return fmt.Errorf("config.api.base_path must start with /")
	}
	if c.API.TokenTTL != "" {
		if _, err := time.ParseDuration(c.API.TokenTTL); err != nil {
			return fmt.Errorf("config.api.token_ttl: %w", err)
		}
	}
	switch c.Storage.Kind {
	case "", "fs":
	case "minio":
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			return fmt.Errorf("config.storage.minio needs endpoint and bucket")
		}
	default:
		return fmt.Errorf("config.storage.kind must be fs or minio, got %q", c.Storage.Kind)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	return nil
}

// TokenTTL returns the configured bearer token lifetime.
func (c *Config) TokenTTL() time.Duration {
	d, err := time.ParseDuration(c.API.TokenTTL)
	if err != nil || d <= 0 {
		return 8 * time.Hour
	}
	return d
}

// DocumentDir resolves the filesystem document directory against workspace.
func (c *Config) DocumentDir(workspace string) string {
	dir := c.Storage.Dir
	if dir == "" {
		dir = filepath.Join(".projectops", "documents")
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, dir)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "projectops.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `parameters:
  OVERLOAD_PROJECTS_THRESHOLD: "4"
  DEVIATION_AMBER: "0.10"
  DEVIATION_RED: "0.20"

roles:
  - Developer
  - Analyst
  - Designer
  - QA
  - Project Manager

api:
  addr: 127.0.0.1:8080
  base_path: /api
  jwt_secret_env: PROJECTOPS_JWT_SECRET
  token_ttl: 8h
  metrics: true

storage:
  kind: fs
  dir: .projectops/documents

log:
  level: info
  format: text
`
