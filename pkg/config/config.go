// Package config holds the provisioner's settings record: where the
// WordPress core and test-support trees live and which database
// credentials the generated test configuration uses.
//
// The record is loaded from a persisted YAML settings file that is created
// with defaults on first run, then passed explicitly to every component.
// The WP_CORE_DIR and WP_TESTS_DIR environment variables are honored as
// overrides so existing setups keep working.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSettingsFile is the settings file name, relative to the directory
// the provisioner runs from.
const DefaultSettingsFile = ".wptestenv.yml"

const (
	defaultCoreDir  = "/tmp/wordpress"
	defaultTestsDir = "/tmp/wordpress-tests-lib"
)

// ErrIncomplete reports a settings record missing the two required paths.
var ErrIncomplete = errors.New("core and tests directories must be configured")

// Database holds the test database credentials substituted into the
// generated configuration. These are plaintext local-VM credentials.
type Database struct {
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
}

// Settings is the explicit configuration record for one run.
type Settings struct {
	// CoreDir holds the fetched framework source tree. Mirrored on every
	// run; no versioned side-by-side retention.
	CoreDir string `yaml:"core_dir"`

	// TestsDir holds the fetched test-support library.
	TestsDir string `yaml:"tests_dir"`

	DB Database `yaml:"database"`
}

// Defaults returns the settings written on first run.
func Defaults() Settings {
	return Settings{
		CoreDir:  defaultCoreDir,
		TestsDir: defaultTestsDir,
		DB: Database{
			Name:     "wordpress_test",
			User:     "root",
			Password: "root",
			Host:     "localhost",
		},
	}
}

// Load reads the settings file at path, creating it with defaults when it
// does not exist yet. Environment overrides are applied after load.
func Load(path string) (Settings, error) {
	settings, err := loadOrCreate(path)
	if err != nil {
		return Settings{}, err
	}

	if coreDir := os.Getenv("WP_CORE_DIR"); coreDir != "" {
		settings.CoreDir = coreDir
	}
	if testsDir := os.Getenv("WP_TESTS_DIR"); testsDir != "" {
		settings.TestsDir = testsDir
	}

	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func loadOrCreate(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		settings := Defaults()
		if writeErr := write(path, settings); writeErr != nil {
			return Settings{}, fmt.Errorf("failed to create settings file: %w", writeErr)
		}
		return settings, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings file: %w", err)
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	return settings, nil
}

func write(path string, settings Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports the environment-configuration error when either
// required path is unset.
func (s Settings) Validate() error {
	if s.CoreDir == "" || s.TestsDir == "" {
		return ErrIncomplete
	}
	return nil
}
