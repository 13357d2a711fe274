package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	configFileName = "config.yaml"
	modelFileName  = "model.json"
	dataFileName   = "data.db"
	dirMode        = 0700
	fileMode       = 0600

	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatText = "text"

	defaultWorkers = 4
)

// Formats lists the supported output formats.
var Formats = []string{FormatJSON, FormatYAML, FormatText}

// Config represents app config object.
type Config struct {
	ModelPath string `yaml:"model_path"`
	DBPath    string `yaml:"db_path"`
	Format    string `yaml:"format"`
	LogLevel  string `yaml:"log_level"`
	Fallback  bool   `yaml:"fallback"`
	Workers   int    `yaml:"workers"`
}

func getDefaultConfig(dirPath string) *Config {
	return &Config{
		ModelPath: filepath.Join(dirPath, modelFileName),
		DBPath:    filepath.Join(dirPath, dataFileName),
		Format:    FormatJSON,
		LogLevel:  "info",
		Fallback:  true,
		Workers:   defaultWorkers,
	}
}

// Validate checks the config for values the CLI cannot run with.
func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model_path required")
	}
	if c.DBPath == "" {
		return errors.New("db_path required")
	}
	if !IsFormat(c.Format) {
		return errors.Errorf("unsupported format %q, expected one of %s", c.Format, strings.Join(Formats, ", "))
	}
	if c.Workers < 1 {
		return errors.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}

// IsFormat reports whether f is a supported output format.
func IsFormat(f string) bool {
	for _, v := range Formats {
		if v == f {
			return true
		}
	}
	return false
}

func Save(dirPath string, c *Config) error {
	if dirPath == "" {
		return errors.New("config directory required")
	}
	if c == nil {
		return errors.New("config required")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	path := filepath.Join(dirPath, configFileName)
	if err := os.WriteFile(path, b, fileMode); err != nil {
		return errors.Wrapf(err, "failed to write config file: %s", configFileName)
	}
	return nil
}

// ReadOrCreate reads app config from directory or creates a new one.
// Values missing from the file are filled from the defaults.
func ReadOrCreate(dirPath string) (*Config, error) {
	if dirPath == "" {
		return nil, errors.New("config directory required")
	}

	if err := os.MkdirAll(dirPath, dirMode); err != nil {
		return nil, errors.Wrapf(err, "failed to create dir: %s", dirPath)
	}

	path := filepath.Join(dirPath, configFileName)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Debug("creating default config", "path", path)
		if err := Save(dirPath, getDefaultConfig(dirPath)); err != nil {
			return nil, errors.Wrap(err, "failed to create default config")
		}
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading config file: %s", path)
	}

	c := getDefaultConfig(dirPath)
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, errors.Wrapf(err, "error unmarshalling config file: %s", path)
	}

	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config file: %s", path)
	}
	return c, nil
}

// GetOrCreateHomeDir returns the home directory for the current user.
// The create flag is set to true if the directory was created.
func GetOrCreateHomeDir(name string) (path string, created bool, err error) {
	if name == "" {
		return "", false, errors.New("name cannot be empty")
	}

	if !strings.HasPrefix(name, ".") {
		name = "." + name
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, errors.Wrap(err, "failed to get user home dir")
	}
	slog.Debug("home dir", "path", home)

	dir := filepath.Join(home, name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		slog.Debug("creating dir", "path", dir)
		err := os.Mkdir(dir, dirMode)
		if err != nil {
			return "", false, errors.Wrapf(err, "failed to create dir: %s", dir)
		}
		created = true
	}
	return dir, created, nil
}
