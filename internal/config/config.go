// Package config holds the explicit configuration handed to every harness
// component.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/715d/buildcheck/pkg/build"
	"github.com/715d/buildcheck/pkg/process"
)

// DefaultFramework is the target framework used when neither the config nor
// a case names one.
const DefaultFramework = "netstandard1.5"

// Config is the complete harness configuration.
type Config struct {
	// FixturesRoot is the read-only directory of fixture projects.
	FixturesRoot string `yaml:"fixtures_root"`

	// TempRoot is where workspaces are created. Empty means the OS temp dir.
	TempRoot string `yaml:"temp_root,omitempty"`

	// BuildCommand is the build command line, e.g. "dotnet build".
	BuildCommand string `yaml:"build_command"`

	// RestoreCommand is the restore command line, e.g. "dotnet restore".
	RestoreCommand string `yaml:"restore_command"`

	// Framework is the default target framework.
	Framework string `yaml:"framework"`

	// Configuration is the default build configuration.
	Configuration string `yaml:"configuration"`

	// Parallel bounds how many cases run at once.
	Parallel int `yaml:"parallel"`

	// Timeout bounds one build configuration. Zero means no deadline.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// KeepWorkspaces leaves every workspace on disk.
	KeepWorkspaces bool `yaml:"keep_workspaces,omitempty"`

	// KeepFailed leaves workspaces of failed cases on disk.
	KeepFailed bool `yaml:"keep_failed,omitempty"`

	// Env adds KEY=VALUE entries to the environment of spawned tools.
	Env []string `yaml:"env,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		FixturesRoot:   "testdata",
		BuildCommand:   "dotnet build",
		RestoreCommand: "dotnet restore",
		Framework:      DefaultFramework,
		Configuration:  build.DefaultConfiguration,
		Parallel:       runtime.GOMAXPROCS(0),
	}
}

// Load reads a YAML config file over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.FixturesRoot == "" {
		errs = append(errs, errors.New("fixtures_root is required"))
	}
	if _, err := process.ParseCommand(c.BuildCommand); err != nil {
		errs = append(errs, fmt.Errorf("build_command: %w", err))
	}
	if _, err := process.ParseCommand(c.RestoreCommand); err != nil {
		errs = append(errs, fmt.Errorf("restore_command: %w", err))
	}
	if c.Parallel < 1 {
		errs = append(errs, fmt.Errorf("parallel must be at least 1, got %d", c.Parallel))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}
	return errors.Join(errs...)
}

// Invoker builds the build invoker described by the configuration.
func (c *Config) Invoker() (*build.Invoker, error) {
	buildCmd, err := process.ParseCommand(c.BuildCommand)
	if err != nil {
		return nil, err
	}
	restoreCmd, err := process.ParseCommand(c.RestoreCommand)
	if err != nil {
		return nil, err
	}

	var env []string
	if len(c.Env) > 0 {
		env = append(os.Environ(), c.Env...)
	}
	return &build.Invoker{
		BuildCommand:   buildCmd,
		RestoreCommand: restoreCmd,
		Runner:         &process.Runner{Env: env},
	}, nil
}
