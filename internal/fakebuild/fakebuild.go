// Package fakebuild is a stand-in for an external project build tool. It
// understands just enough of project.json and C# sources to produce the
// artifacts the harness verifies: documentation XML, satellite resource
// assemblies, analyzer diagnostics, content files and a runnable entry point
// that lists its embedded resources and classes. It compiles nothing.
package fakebuild

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/pflag"

	"github.com/715d/buildcheck/pkg/build"
)

const (
	exitOK    = 0
	exitBuild = 1
	exitUsage = 2
)

// Main runs the tool with args (without argv[0]) and returns the exit code.
//
//	build <project.json> [--output dir] [--framework fw] [--configuration cfg]
//	restore <dir>
func Main(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: fakebuild build|restore ...")
		return exitUsage
	}
	switch args[0] {
	case "build":
		return runBuild(args[1:], stdout, stderr)
	case "restore":
		return runRestore(args[1:], stdout, stderr)
	}
	fmt.Fprintf(stderr, "unknown command %q\n", args[0])
	return exitUsage
}

func runRestore(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: fakebuild restore <dir>")
		return exitUsage
	}
	p, err := loadProject(build.ProjectPath(args[0]))
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitBuild
	}

	deps := make([]string, 0, len(p.Dependencies))
	for name := range p.Dependencies {
		deps = append(deps, name)
	}
	sort.Strings(deps)

	data, err := json.MarshalIndent(map[string]any{"locked": true, "libraries": deps}, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitBuild
	}
	if err := os.WriteFile(filepath.Join(p.dir, lockFile), data, 0o644); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitBuild
	}
	fmt.Fprintf(stdout, "Restoring packages for %s\n", build.ProjectPath(p.dir))
	for _, dep := range deps {
		fmt.Fprintf(stdout, "  Installed %s\n", dep)
	}
	fmt.Fprintln(stdout, "Restore completed.")
	return exitOK
}

func runBuild(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("build", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	output := fs.String("output", "", "output directory")
	framework := fs.String("framework", "", "target framework")
	configuration := fs.String("configuration", build.DefaultConfiguration, "build configuration")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: fakebuild build <project.json> [flags]")
		return exitUsage
	}
	projectPath := fs.Arg(0)

	p, err := loadProject(projectPath)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitBuild
	}
	if *output == "" {
		*output = filepath.Join(p.dir, "bin")
	}
	if *framework == "" {
		*framework = p.defaultFramework()
	}
	if _, ok := p.Frameworks[*framework]; !ok {
		fmt.Fprintf(stderr, "error NU1002: The project %s does not support framework %s\n", p.Name, *framework)
		return exitBuild
	}
	if len(p.Dependencies) > 0 {
		if _, err := os.Stat(filepath.Join(p.dir, lockFile)); err != nil {
			fmt.Fprintf(stderr, "error NU1009: The expected lock file doesn't exist. Please run \"restore\" in %s\n", p.dir)
			return exitBuild
		}
	}

	fmt.Fprintf(stdout, "Compiling %s for %s\n", p.Name, *framework)
	b := &builder{
		project:     p,
		output:      *output,
		artifactDir: build.Invocation{Output: *output, Framework: *framework, Configuration: *configuration}.ArtifactDir(),
		stdout:      stdout,
		stderr:      stderr,
	}
	if err := b.run(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		fmt.Fprintln(stdout, "Compilation failed.")
		return exitBuild
	}
	fmt.Fprintln(stdout, "Compilation succeeded.")
	return exitOK
}

type builder struct {
	project     *Project
	output      string
	artifactDir string
	stdout      io.Writer
	stderr      io.Writer
}

func (b *builder) run() error {
	sources, err := b.project.scanSources()
	if err != nil {
		return err
	}
	resources, err := b.project.resources()
	if err != nil {
		return err
	}

	if b.project.hasAnalyzers() {
		var warnings int
		for _, src := range sources {
			for _, issue := range src.Issues {
				fmt.Fprintf(b.stderr, "%s(%d,%d): warning %s: %s\n", src.File, issue.Line, issue.Column, issue.Code, issue.Message)
				warnings++
			}
		}
		fmt.Fprintf(b.stdout, "    %d Warning(s)\n", warnings)
	}

	var classes []string
	for _, src := range sources {
		classes = append(classes, src.Classes...)
	}
	var embedded []string
	for _, path := range resources[""] {
		embedded = append(embedded, b.project.resourceName(path))
	}
	slices.Sort(classes)
	slices.Sort(embedded)

	name := b.project.Name
	manifest := "assembly " + name + "\n" + strings.Join(append(append([]string{}, classes...), embedded...), "\n") + "\n"
	if err := writeFile(filepath.Join(b.artifactDir, name+".dll"), manifest, 0o644); err != nil {
		return err
	}

	if b.project.CompilationOptions.XMLDoc {
		if err := writeFile(filepath.Join(b.artifactDir, name+".xml"), docXML(name, sources), 0o644); err != nil {
			return err
		}
	}

	for culture, paths := range resources {
		if culture == "" {
			continue
		}
		satellite := "satellite " + name + " " + culture + "\n" + strings.Join(paths, "\n") + "\n"
		if err := writeFile(filepath.Join(b.artifactDir, culture, name+".resources.dll"), satellite, 0o644); err != nil {
			return err
		}
	}

	if !b.project.CompilationOptions.EmitEntryPoint {
		return nil
	}
	for _, rel := range b.project.Content {
		if err := copyContent(filepath.Join(b.project.dir, filepath.FromSlash(rel)), filepath.Join(b.output, filepath.FromSlash(rel))); err != nil {
			return err
		}
	}
	return writeFile(filepath.Join(b.output, name+".exe"), entryPoint(embedded, classes), 0o755)
}

func docXML(assembly string, sources []Source) string {
	var sb strings.Builder
	sb.WriteString("<?xml version=\"1.0\"?>\n<doc>\n")
	fmt.Fprintf(&sb, "  <assembly>\n    <name>%s</name>\n  </assembly>\n  <members>\n", html.EscapeString(assembly))
	for _, src := range sources {
		for _, m := range src.Members {
			fmt.Fprintf(&sb, "    <member name=%q>\n      <summary>%s</summary>\n    </member>\n", m.ID, m.Summary)
		}
	}
	sb.WriteString("  </members>\n</doc>\n")
	return sb.String()
}

// entryPoint renders the produced executable as a POSIX shell script.
func entryPoint(resources, classes []string) string {
	var sb strings.Builder
	sb.WriteString("#!/bin/sh\ncat <<'EOF'\nResources:\n")
	for _, r := range resources {
		sb.WriteString("  " + r + "\n")
	}
	sb.WriteString("Classes:\n")
	for _, c := range classes {
		sb.WriteString("  " + c + "\n")
	}
	sb.WriteString("EOF\n")
	return sb.String()
}

func copyContent(src, dst string) error {
	data, err := os.ReadFile(src)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("content file %s not found", src)
	}
	if err != nil {
		return err
	}
	return writeFile(dst, string(data), 0o644)
}

func writeFile(path, content string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return err
	}
	// WriteFile keeps the mode of an existing file.
	return os.Chmod(path, perm)
}
