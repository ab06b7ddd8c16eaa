// Package harness runs fixture projects through an external build tool and
// checks the results against the expectations stored next to each fixture.
package harness

import (
	"path"
	"slices"
	"strings"
)

// ManifestFile is the expectations file inside a fixture.
const ManifestFile = "expected.yaml"

// TestCase represents a single fixture and its expectations.
type TestCase struct {
	// Dir is the fixture name, relative to the fixtures root.
	Dir string `yaml:"-"`

	// Description is shown in verbose output.
	Description string `yaml:"description,omitempty"`

	// Assembly is the produced assembly name. Defaults to the fixture name.
	Assembly string `yaml:"assembly,omitempty"`

	// Restore runs the restore command before building.
	Restore bool `yaml:"restore,omitempty"`

	// RootFiles are copied from the fixtures root into the workspace root,
	// next to the project directory (e.g. global.json).
	RootFiles []string `yaml:"root_files,omitempty"`

	// Platforms limits the case to these GOOS values. Empty means all.
	Platforms []string `yaml:"platforms,omitempty"`

	// Skip disables the case.
	Skip bool `yaml:"skip,omitempty"`

	// Reason explains Skip.
	Reason string `yaml:"reason,omitempty"`

	// BuildConfigurations defines the builds to run, each in its own workspace.
	BuildConfigurations []BuildConfiguration `yaml:"build_configurations"`
}

// AssemblyName returns the produced assembly name.
func (tc *TestCase) AssemblyName() string {
	if tc.Assembly != "" {
		return tc.Assembly
	}
	return path.Base(tc.Dir)
}

// SkipReason reports why the case should not run on goos, or "".
func (tc *TestCase) SkipReason(goos string) string {
	if tc.Skip {
		if tc.Reason == "" {
			return "skipped"
		}
		return tc.Reason
	}
	if len(tc.Platforms) > 0 && !slices.Contains(tc.Platforms, goos) {
		return "not supported on " + goos + " (platforms: " + strings.Join(tc.Platforms, ", ") + ")"
	}
	return ""
}

// BuildConfiguration represents a single build of the fixture.
type BuildConfiguration struct {
	// Name is a descriptive name for this configuration.
	Name string `yaml:"name"`

	// Framework overrides the configured default target framework.
	Framework string `yaml:"framework,omitempty"`

	// OmitFramework passes no framework to the build tool.
	OmitFramework bool `yaml:"omit_framework,omitempty"`

	// Configuration overrides the configured default build configuration.
	Configuration string `yaml:"configuration,omitempty"`

	// Repeat builds this many times in the same workspace. Every build must
	// produce the same set of output files.
	Repeat int `yaml:"repeat,omitempty"`

	// ExpectFailure inverts the exit status check of the build.
	ExpectFailure bool `yaml:"expect_failure,omitempty"`

	// Files must exist under the output directory. Doublestar globs allowed.
	Files []string `yaml:"files,omitempty"`

	// MissingFiles must not exist under the output directory.
	MissingFiles []string `yaml:"missing_files,omitempty"`

	// FileContains lists files that must hold a literal text.
	FileContains []FileText `yaml:"file_contains,omitempty"`

	// Stdout holds expectations over the build's standard output.
	Stdout TextExpectation `yaml:"stdout,omitempty"`

	// Stderr holds expectations over the build's standard error.
	Stderr TextExpectation `yaml:"stderr,omitempty"`

	// Diagnostics lists codes that must be reported as parsed diagnostics.
	Diagnostics []string `yaml:"diagnostics,omitempty"`

	// Run executes a produced executable after a successful build.
	Run *RunExpectation `yaml:"run,omitempty"`
}

// FileText is a file that must contain Text.
type FileText struct {
	Path string `yaml:"path"`
	Text string `yaml:"text"`
}

// TextExpectation holds substring checks over captured text.
type TextExpectation struct {
	Contains    []string `yaml:"contains,omitempty"`
	NotContains []string `yaml:"not_contains,omitempty"`
}

// RunExpectation describes how to run a produced executable and what it
// must print.
type RunExpectation struct {
	// Executable is relative to the output directory.
	Executable string `yaml:"executable"`

	// Args are passed to the executable.
	Args []string `yaml:"args,omitempty"`

	// ExpectFailure inverts the exit status check.
	ExpectFailure bool `yaml:"expect_failure,omitempty"`

	Stdout TextExpectation `yaml:"stdout,omitempty"`
	Stderr TextExpectation `yaml:"stderr,omitempty"`
}
