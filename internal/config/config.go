// Package config loads a YAML sync profile, interpolates ${VAR} references
// against the OS environment and an optional sibling .env file, and
// resolves the result into a SyncConfig the rest of the engine consumes.
//
// Grounded on the teacher's internal/config/config.go (LoadAndValidateConfig,
// loadDotEnvIfExists, interpolateEnv), trimmed of its reflection-based
// AdvancedTemplateRenderer: that renderer resolves nested `var.foo[2].bar`
// references against an arbitrary `var` map, which this spec's flatter
// SyncConfig has no equivalent of.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the default profile name Load looks for when called with a
// directory instead of a file path.
const FileName = "sync.yaml"

// SyncConfig is the resolved, validated configuration the orchestrator and
// its collaborators consume. Field names mirror spec §6 directly.
type SyncConfig struct {
	LocalRoot  string `yaml:"local_root"`
	RemoteRoot string `yaml:"remote_root"`
	Server     string `yaml:"server"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	PrivateKey string `yaml:"private_key"`

	IgnoreFile             string        `yaml:"ignore_file"`
	ChangeThreshold        time.Duration `yaml:"-"`
	ChangeThresholdSeconds int           `yaml:"change_threshold_seconds"`

	PollInterval        time.Duration `yaml:"-"`
	PollIntervalSeconds int           `yaml:"poll_interval_seconds"`
	PollTimeout         time.Duration `yaml:"-"`
	PollTimeoutSeconds  int           `yaml:"poll_timeout_seconds"`

	Force    bool `yaml:"force,omitempty"`
	PushOnly bool `yaml:"push_only,omitempty"`
	PullOnly bool `yaml:"pull_only,omitempty"`
	DryRun   bool `yaml:"dry_run,omitempty"`
	Verbose  bool `yaml:"verbose,omitempty"`
}

// defaults applied when a profile omits a value; the change threshold
// matches fingerprint.DefaultThreshold.
const (
	defaultChangeThresholdSeconds = 180
	defaultPollIntervalSeconds    = 5
	defaultPollTimeoutSeconds     = 120
	defaultPort                   = 22
)

// Load reads the profile at path (or path/sync.yaml if path is a
// directory), interpolates ${VAR} references using the OS environment and
// a sibling .env file, unmarshals it, applies defaults, and validates the
// result.
func Load(path string) (*SyncConfig, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}
	if info.IsDir() {
		path = filepath.Join(path, FileName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	envMap, warnings := loadDotEnvIfExists(filepath.Dir(path))
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, w)
	}

	rendered, missing := interpolateEnv(string(data), envMap)
	for _, name := range missing {
		fmt.Fprintf(os.Stderr, "config: environment variable %s not set; using empty string\n", name)
	}

	var cfg SyncConfig
	if err := yaml.Unmarshal([]byte(rendered), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	// A relative local_root is taken relative to the profile's directory.
	if !filepath.IsAbs(cfg.LocalRoot) {
		cfg.LocalRoot = filepath.Join(filepath.Dir(path), cfg.LocalRoot)
	}
	absLocal, err := filepath.Abs(cfg.LocalRoot)
	if err != nil {
		return nil, fmt.Errorf("config: resolve local_root: %w", err)
	}
	cfg.LocalRoot = absLocal

	return &cfg, nil
}

func applyDefaults(cfg *SyncConfig) {
	if cfg.ChangeThresholdSeconds == 0 {
		cfg.ChangeThresholdSeconds = defaultChangeThresholdSeconds
	}
	if cfg.PollIntervalSeconds == 0 {
		cfg.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if cfg.PollTimeoutSeconds == 0 {
		cfg.PollTimeoutSeconds = defaultPollTimeoutSeconds
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	cfg.ChangeThreshold = time.Duration(cfg.ChangeThresholdSeconds) * time.Second
	cfg.PollInterval = time.Duration(cfg.PollIntervalSeconds) * time.Second
	cfg.PollTimeout = time.Duration(cfg.PollTimeoutSeconds) * time.Second
}

// Validate reports every structural problem with cfg at once, matching the
// teacher's accumulate-then-report style in ValidateConfig.
func Validate(cfg *SyncConfig) error {
	var problems []string

	if strings.TrimSpace(cfg.LocalRoot) == "" {
		problems = append(problems, "local_root cannot be empty")
	}
	if strings.TrimSpace(cfg.RemoteRoot) == "" {
		problems = append(problems, "remote_root cannot be empty")
	}
	if strings.TrimSpace(cfg.Server) == "" {
		problems = append(problems, "server cannot be empty")
	}
	if strings.TrimSpace(cfg.Username) == "" {
		problems = append(problems, "username cannot be empty")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		problems = append(problems, "port must be between 1 and 65535")
	}
	if cfg.PushOnly && cfg.PullOnly {
		problems = append(problems, "push_only and pull_only are mutually exclusive")
	}
	if strings.TrimSpace(cfg.PrivateKey) != "" {
		if _, err := os.Stat(cfg.PrivateKey); os.IsNotExist(err) {
			problems = append(problems, fmt.Sprintf("private_key file does not exist: %s", cfg.PrivateKey))
		}
	}
	if strings.TrimSpace(cfg.IgnoreFile) != "" {
		if _, err := os.Stat(cfg.IgnoreFile); os.IsNotExist(err) {
			problems = append(problems, fmt.Sprintf("ignore_file does not exist: %s", cfg.IgnoreFile))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidationError reports every configuration problem found by Validate at
// once, rather than failing on the first.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration invalid:\n%s", strings.Join(e.Problems, "\n"))
}

// loadDotEnvIfExists reads a .env file in dir, if one exists. Missing files
// are not an error; parse failures are returned as warning strings rather
// than aborting the load, matching the teacher's loadDotEnvIfExists.
func loadDotEnvIfExists(dir string) (map[string]string, []string) {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return map[string]string{}, nil
	}

	m, err := godotenv.Read(envPath)
	if err != nil {
		return map[string]string{}, []string{fmt.Sprintf("config: failed to parse %s: %v", envPath, err)}
	}
	return m, nil
}

// interpolateEnv replaces ${VAR}/$VAR references in input. Precedence: OS
// environment, then envMap. Names with neither are replaced with the empty
// string and returned in missing for the caller to warn about.
func interpolateEnv(input string, envMap map[string]string) (string, []string) {
	var missing []string
	out := os.Expand(input, func(name string) string {
		if v := os.Getenv(name); v != "" {
			return v
		}
		if v, ok := envMap[name]; ok {
			return v
		}
		missing = append(missing, name)
		return ""
	})
	return out, missing
}

// ParsePort is a small helper for callers (e.g. the CLI) accepting a port
// as a string flag override.
func ParsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("config: invalid port %q: %w", s, err)
	}
	return p, nil
}
