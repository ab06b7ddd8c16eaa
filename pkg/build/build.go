// Package build composes invocations of an external build tool.
package build

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/715d/buildcheck/pkg/process"
)

// ProjectFile is the project descriptor name inside a fixture directory.
const ProjectFile = "project.json"

// DefaultConfiguration is the configuration the build tool uses when none is given.
const DefaultConfiguration = "Debug"

// Invocation describes one build of a project.
type Invocation struct {
	// Project is the path of the project descriptor.
	Project string

	// Output is the output directory. Optional.
	Output string

	// Framework is the target framework. Optional.
	Framework string

	// Configuration is the build configuration. Optional.
	Configuration string
}

// Args renders the invocation as build tool arguments. Empty optional values
// are omitted.
func (inv Invocation) Args() []string {
	args := []string{inv.Project}
	if inv.Output != "" {
		args = append(args, "--output", inv.Output)
	}
	if inv.Framework != "" {
		args = append(args, "--framework", inv.Framework)
	}
	if inv.Configuration != "" {
		args = append(args, "--configuration", inv.Configuration)
	}
	return args
}

// ArtifactDir is where the tool writes compiled artifacts:
// <output>/<configuration>/<framework>.
func (inv Invocation) ArtifactDir() string {
	cfg := inv.Configuration
	if cfg == "" {
		cfg = DefaultConfiguration
	}
	return filepath.Join(inv.Output, cfg, inv.Framework)
}

// Result is the captured outcome of a build or restore.
type Result struct {
	*process.Result
}

// ProjectPath returns the project descriptor path inside dir.
func ProjectPath(dir string) string {
	return filepath.Join(dir, ProjectFile)
}

// Invoker runs build and restore commands through a process runner.
type Invoker struct {
	// BuildCommand is the build executable followed by its leading arguments,
	// e.g. ["dotnet", "build"].
	BuildCommand []string

	// RestoreCommand is the restore executable followed by its leading
	// arguments, e.g. ["dotnet", "restore"].
	RestoreCommand []string

	// Runner spawns the tool. Nil uses a zero Runner.
	Runner *process.Runner
}

// Build runs the build command for inv and waits for it.
func (i *Invoker) Build(ctx context.Context, inv Invocation) (*Result, error) {
	if inv.Project == "" {
		return nil, fmt.Errorf("build: project path is required")
	}
	return i.run(ctx, "build", i.BuildCommand, inv.Args())
}

// Restore runs the restore command over dir and waits for it.
func (i *Invoker) Restore(ctx context.Context, dir string) (*Result, error) {
	return i.run(ctx, "restore", i.RestoreCommand, []string{dir})
}

func (i *Invoker) run(ctx context.Context, verb string, command, args []string) (*Result, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("%s: no command configured", verb)
	}
	runner := i.Runner
	if runner == nil {
		runner = &process.Runner{}
	}

	full := append(append([]string{}, command[1:]...), args...)
	res, err := runner.Run(ctx, command[0], full...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", verb, err)
	}
	return &Result{Result: res}, nil
}
