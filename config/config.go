package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "SATELLITE_CONFIG"

// Config is the agent's on-disk configuration.
type Config struct {
	CentralURL          string   `yaml:"central_url"`
	ServerID            string   `yaml:"server_id"`
	PrivateKeyPath      string   `yaml:"private_key_path"`
	LauncherPath        string   `yaml:"launcher_path"`
	JavaPath            string   `yaml:"java_path"`
	RuntimeMarker       string   `yaml:"runtime_marker"`
	IdentityProperty    string   `yaml:"identity_property"`
	StagingDir          string   `yaml:"staging_dir"`
	LogDir              string   `yaml:"log_dir"`
	ClusterTemplatePath string   `yaml:"cluster_template_path"`
	HistoryDBPath       string   `yaml:"history_db_path"`
	PollInterval        Duration `yaml:"poll_interval"`
	InitialDelay        Duration `yaml:"initial_delay"`
	CycleTimeout        Duration `yaml:"cycle_timeout"`
	RequestTimeout      Duration `yaml:"request_timeout"`
	ScanTimeout         Duration `yaml:"scan_timeout"`
	GeneratedFileMaxAge Duration `yaml:"generated_file_max_age"`
}

// Duration is a time.Duration written as a Go duration string ("60s", "5m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a Config holding every default value. The required fields
// stay empty.
func Default() Config {
	return Config{
		JavaPath:         "/usr/bin/java",
		RuntimeMarker:    "java",
		IdentityProperty: "satellite.deployment",
		StagingDir:       "/tmp",
		LogDir:           "/tmp",
		PollInterval:     Duration(60 * time.Second),
		InitialDelay:     Duration(2 * time.Second),
		CycleTimeout:     Duration(50 * time.Second),
		RequestTimeout:   Duration(30 * time.Second),
		ScanTimeout:      Duration(10 * time.Second),
	}
}

// Load reads the YAML file at path (or $SATELLITE_CONFIG when path is empty),
// applies environment overrides and validates the result. With neither a path
// nor the variable set, configuration comes from defaults and environment only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	for env, field := range map[string]*string{
		"SATELLITE_CENTRAL_URL":      &c.CentralURL,
		"SATELLITE_SERVER_ID":        &c.ServerID,
		"SATELLITE_PRIVATE_KEY_PATH": &c.PrivateKeyPath,
		"SATELLITE_LAUNCHER_PATH":    &c.LauncherPath,
	} {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}
	if v := os.Getenv("SATELLITE_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SATELLITE_POLL_INTERVAL: %w", err)
		}
		c.PollInterval = Duration(d)
	}
	return nil
}

// Validate reports every missing or invalid setting.
func (c Config) Validate() error {
	var errs []error
	required := []struct{ key, value string }{
		{"central_url", c.CentralURL},
		{"server_id", c.ServerID},
		{"private_key_path", c.PrivateKeyPath},
		{"launcher_path", c.LauncherPath},
		{"java_path", c.JavaPath},
		{"runtime_marker", c.RuntimeMarker},
		{"identity_property", c.IdentityProperty},
		{"staging_dir", c.StagingDir},
		{"log_dir", c.LogDir},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.key))
		}
	}
	if c.CentralURL != "" {
		u, err := url.Parse(c.CentralURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("central_url %q must be an http(s) URL", c.CentralURL))
		}
	}

	positive := []struct {
		key   string
		value Duration
	}{
		{"poll_interval", c.PollInterval},
		{"initial_delay", c.InitialDelay},
		{"cycle_timeout", c.CycleTimeout},
		{"request_timeout", c.RequestTimeout},
		{"scan_timeout", c.ScanTimeout},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", p.key))
		}
	}
	if c.GeneratedFileMaxAge < 0 {
		errs = append(errs, fmt.Errorf("generated_file_max_age must not be negative"))
	}
	if c.CycleTimeout > 0 && c.PollInterval > 0 && c.CycleTimeout > c.PollInterval {
		errs = append(errs, fmt.Errorf("cycle_timeout (%s) must not exceed poll_interval (%s)", c.CycleTimeout.Std(), c.PollInterval.Std()))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
