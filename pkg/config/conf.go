package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mchmarny/sejctl/pkg/project"
	"gopkg.in/yaml.v3"
)

const (
	FileName    = "config.yaml"
	EnvFileName = ".env"
	EnvPrefix   = "SEJCTL_"

	dirMode  = 0700
	fileMode = 0600

	defaultPort = 8080
)

// Config is the persisted CLI configuration.
type Config struct {
	DSN         string      `yaml:"dsn,omitempty"`
	Format      string      `yaml:"format"`
	LogLevel    string      `yaml:"log_level"`
	Port        int         `yaml:"port"`
	Calculation Calculation `yaml:"calculation"`
}

// Calculation holds the defaults used when a command does not set them.
type Calculation struct {
	Weight     project.WeightType `yaml:"weight"`
	Overshoot  float64            `yaml:"overshoot"`
	Alpha      *float64           `yaml:"alpha,omitempty"`
	CalPower   float64            `yaml:"calpower"`
	Robustness bool               `yaml:"robustness"`
}

// Default returns the configuration written on first use.
func Default() *Config {
	return &Config{
		Format:   string(project.FormatJSON),
		LogLevel: "info",
		Port:     defaultPort,
		Calculation: Calculation{
			Weight:    project.WeightGlobal,
			Overshoot: project.DefaultOvershoot,
			CalPower:  project.DefaultCalPower,
		},
	}
}

// Settings returns decision maker settings for id seeded from the defaults.
func (c Calculation) Settings(id string) project.Settings {
	s := project.DefaultSettings(id)
	if c.Weight != "" {
		s.Weight = c.Weight
	}
	s.Overshoot = c.Overshoot
	if c.CalPower > 0 {
		s.CalPower = c.CalPower
	}
	if c.Alpha != nil {
		a := *c.Alpha
		s.Alpha = &a
	}
	s.Robustness = c.Robustness
	return s
}

// Keys lists the settable configuration keys in display order.
var Keys = []string{"dsn", "format", "log_level", "port", "weight", "overshoot", "alpha", "calpower", "robustness"}

// Set parses value and assigns it to key. An empty alpha clears it.
func (c *Config) Set(key, value string) error {
	value = strings.TrimSpace(value)
	switch strings.ToLower(key) {
	case "dsn":
		c.DSN = value
	case "format":
		f, err := project.ParseFormat(value)
		if err != nil {
			return err
		}
		c.Format = string(f)
	case "log_level":
		c.LogLevel = strings.ToLower(value)
	case "port":
		v, err := strconv.Atoi(value)
		if err != nil || v < 1 || v > 65535 {
			return fmt.Errorf("port %q must be between 1 and 65535", value)
		}
		c.Port = v
	case "weight":
		w, err := project.ParseWeightType(value)
		if err != nil {
			return err
		}
		c.Calculation.Weight = w
	case "overshoot":
		v, err := parseFloat(key, value)
		if err != nil {
			return err
		}
		if v < 0 {
			return fmt.Errorf("overshoot %v must be >= 0", v)
		}
		c.Calculation.Overshoot = v
	case "alpha":
		if value == "" {
			c.Calculation.Alpha = nil
			return nil
		}
		v, err := parseFloat(key, value)
		if err != nil {
			return err
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("alpha %v must be in [0, 1]", v)
		}
		c.Calculation.Alpha = &v
	case "calpower":
		v, err := parseFloat(key, value)
		if err != nil {
			return err
		}
		if v <= 0 || v > 1 {
			return fmt.Errorf("calpower %v must be in (0, 1]", v)
		}
		c.Calculation.CalPower = v
	case "robustness":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("robustness %q: %w", value, err)
		}
		c.Calculation.Robustness = v
	default:
		return fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(Keys, ", "))
	}
	return nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", key, value, err)
	}
	return v, nil
}

// Get returns the display value of key.
func (c *Config) Get(key string) (string, error) {
	switch strings.ToLower(key) {
	case "dsn":
		return c.DSN, nil
	case "format":
		return c.Format, nil
	case "log_level":
		return c.LogLevel, nil
	case "port":
		return strconv.Itoa(c.Port), nil
	case "weight":
		return string(c.Calculation.Weight), nil
	case "overshoot":
		return strconv.FormatFloat(c.Calculation.Overshoot, 'g', -1, 64), nil
	case "alpha":
		if c.Calculation.Alpha == nil {
			return "", nil
		}
		return strconv.FormatFloat(*c.Calculation.Alpha, 'g', -1, 64), nil
	case "calpower":
		return strconv.FormatFloat(c.Calculation.CalPower, 'g', -1, 64), nil
	case "robustness":
		return strconv.FormatBool(c.Calculation.Robustness), nil
	default:
		return "", fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(Keys, ", "))
	}
}

// ApplyEnv overlays SEJCTL_<KEY> variables, loading the optional .env files first.
// Variables already set in the environment win over .env entries.
func (c *Config) ApplyEnv(envFiles ...string) error {
	var existing []string
	for _, p := range envFiles {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return fmt.Errorf("failed to load env files %v: %w", existing, err)
		}
	}
	for _, k := range Keys {
		v, ok := os.LookupEnv(EnvPrefix + strings.ToUpper(k))
		if !ok {
			continue
		}
		if err := c.Set(k, v); err != nil {
			return fmt.Errorf("env %s%s: %w", EnvPrefix, strings.ToUpper(k), err)
		}
		slog.Debug("config overridden from env", "key", k)
	}
	return nil
}

// Save writes the configuration into dirPath.
func Save(dirPath string, c *Config) error {
	if dirPath == "" {
		return errors.New("config directory required")
	}
	if c == nil {
		return errors.New("config required")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	path := filepath.Join(dirPath, FileName)
	if err := os.WriteFile(path, b, fileMode); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// ReadOrCreate reads the configuration from dirPath, writing the defaults
// when no file exists yet. Missing keys keep their default values.
func ReadOrCreate(dirPath string) (*Config, error) {
	if dirPath == "" {
		return nil, errors.New("config directory required")
	}
	if err := os.MkdirAll(dirPath, dirMode); err != nil {
		return nil, fmt.Errorf("failed to create dir %s: %w", dirPath, err)
	}

	path := filepath.Join(dirPath, FileName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := Save(dirPath, Default()); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("error unmarshalling config file %s: %w", path, err)
	}
	if _, err := project.ParseWeightType(string(c.Calculation.Weight)); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return c, nil
}

// GetOrCreateHomeDir returns ~/.<name>, creating it when missing.
// The created flag reports whether the directory was just made.
func GetOrCreateHomeDir(name string) (path string, created bool, err error) {
	if name == "" {
		return "", false, errors.New("name cannot be empty")
	}
	if !strings.HasPrefix(name, ".") {
		name = "." + name
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("failed to get user home dir: %w", err)
	}

	dir := filepath.Join(home, name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		slog.Debug("creating dir", "path", dir)
		if err := os.Mkdir(dir, dirMode); err != nil {
			return "", false, fmt.Errorf("failed to create dir %s: %w", dir, err)
		}
		created = true
	}
	return dir, created, nil
}

// IsKey reports whether key can be passed to Set and Get.
func IsKey(key string) bool {
	return slices.Contains(Keys, strings.ToLower(key))
}
