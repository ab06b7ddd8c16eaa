// Package main implements the CLI driver for the buildcheck harness.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/715d/buildcheck/internal/config"
	"github.com/715d/buildcheck/internal/harness"
	"github.com/715d/buildcheck/pkg/build"
	"github.com/715d/buildcheck/pkg/expect"
	"github.com/715d/buildcheck/pkg/fixture"
	"github.com/715d/buildcheck/pkg/process"
)

// Options holds all command-line options.
type Options struct {
	ConfigFile    string        // YAML config file; defaults are used when empty
	Verbose       bool          // enables debug logging on stderr
	JSON          bool          // enables JSON output format
	Profile       bool          // enables CPU and memory profiling
	Fixtures      string        // overrides fixtures_root
	Framework     string        // overrides the default target framework
	Configuration string        // overrides the default build configuration
	Parallel      int           // overrides parallel
	Timeout       time.Duration // overrides timeout
	Keep          bool          // keep every workspace
	KeepFailed    bool          // keep workspaces of failed cases
	Restore       bool          // restore before an ad-hoc build
}

const (
	exitFailuresFound = 1
	exitError         = 2
)

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the CLI with args and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts Options
	rootCmd := newRootCmd(&opts)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_ = teardown(&opts)
		if err.Error() != "" {
			fmt.Fprintln(stderr, err.Error())
		}
		var cErr codedError
		if errors.As(err, &cErr) {
			return cErr.code
		}
		return exitError
	}
	return 0
}

func newRootCmd(opts *Options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "buildcheck",
		Short: "Verify build tool output against fixture projects",
		Long: `buildcheck copies fixture projects into isolated temporary workspaces,
runs the configured build tool over them and checks the produced artifacts,
captured output and diagnostics against the expected.yaml stored with each
fixture.`,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return setup(opts)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return teardown(opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	// Set custom version template to include build info.
	rootCmd.SetVersionTemplate(fmt.Sprintf("buildcheck version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.ConfigFile, "config", "", "Path to a YAML config file")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "Enable verbose output")
	pf.BoolVar(&opts.JSON, "json", false, "Output in JSON format")
	pf.BoolVar(&opts.Profile, "profile", false, "Enable CPU and memory profiling (writes cpu.prof and mem.prof to current directory)")
	pf.StringVar(&opts.Fixtures, "fixtures", "", "Fixtures root directory (overrides config)")

	rootCmd.AddCommand(newRunCmd(opts), newListCmd(opts), newBuildCmd(opts))
	return rootCmd
}

func newRunCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [case...]",
		Short: "Run fixture cases and check their expectations",
		Example: `  buildcheck run                          # Run every case
  buildcheck run TestLibrary             # Run one case
  buildcheck run --keep-failed -v        # Keep workspaces of failed cases
  buildcheck run --json > report.json    # JSON report`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCases(cmd, opts, args)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Framework, "framework", "", "Default target framework (overrides config)")
	f.StringVar(&opts.Configuration, "configuration", "", "Default build configuration (overrides config)")
	f.IntVarP(&opts.Parallel, "parallel", "p", 0, "Maximum number of cases run at once (overrides config)")
	f.DurationVar(&opts.Timeout, "timeout", 0, "Deadline for each build configuration, 0 for none (overrides config)")
	f.BoolVar(&opts.Keep, "keep", false, "Keep every workspace")
	f.BoolVar(&opts.KeepFailed, "keep-failed", false, "Keep workspaces of failed cases")
	return cmd
}

func newListCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discovered fixture cases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return errWithCode(err, exitError)
			}
			cases, err := harness.Discover(cfg.FixturesRoot)
			if err != nil {
				return errWithCode(err, exitError)
			}
			if err := writeList(cmd.OutOrStdout(), cases, opts.JSON); err != nil {
				return errWithCode(err, exitError)
			}
			return nil
		},
	}
}

func newBuildCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <fixture>",
		Short: "Build one fixture in a fresh workspace and print the captured output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return buildFixture(cmd, opts, args[0])
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Framework, "framework", "", "Target framework (overrides config)")
	f.StringVar(&opts.Configuration, "configuration", "", "Build configuration (overrides config)")
	f.BoolVar(&opts.Restore, "restore", false, "Run the restore command first")
	f.BoolVar(&opts.Keep, "keep", false, "Keep the workspace")
	return cmd
}

// loadConfig reads the config file, if any, and applies the flags the user set.
func loadConfig(cmd *cobra.Command, opts *Options) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigFile != "" {
		var err error
		if cfg, err = config.Load(opts.ConfigFile); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("fixtures") {
		cfg.FixturesRoot = opts.Fixtures
	}
	if flags.Changed("framework") {
		cfg.Framework = opts.Framework
	}
	if flags.Changed("configuration") {
		cfg.Configuration = opts.Configuration
	}
	if flags.Changed("parallel") {
		cfg.Parallel = opts.Parallel
	}
	if flags.Changed("timeout") {
		cfg.Timeout = opts.Timeout
	}
	if flags.Changed("keep") {
		cfg.KeepWorkspaces = opts.Keep
	}
	if flags.Changed("keep-failed") {
		cfg.KeepFailed = opts.KeepFailed
	}
	return cfg, cfg.Validate()
}

func runCases(cmd *cobra.Command, opts *Options, names []string) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return errWithCode(err, exitError)
	}

	h, err := harness.NewHarness(cfg)
	if err != nil {
		return errWithCode(err, exitError)
	}
	cases, err := harness.Discover(cfg.FixturesRoot)
	if err != nil {
		return errWithCode(err, exitError)
	}
	if cases, err = harness.Filter(cases, names); err != nil {
		return errWithCode(err, exitError)
	}

	slog.Info("running test cases", "num", len(cases), "parallel", cfg.Parallel)
	start := time.Now()
	results := h.RunAll(cmd.Context(), cases)
	report := newReport(results, time.Since(start))
	slog.Info("test cases completed", "dur", report.Stats.Duration)

	if err := writeReport(cmd.OutOrStdout(), report, opts); err != nil {
		return errWithCode(fmt.Errorf("format results: %w", err), exitError)
	}

	// Context cancellation is a harness error, not a failed expectation.
	if err := cmd.Context().Err(); err != nil {
		return errWithCode(fmt.Errorf("run: %w", err), exitError)
	}
	if report.Stats.Failed > 0 {
		return errWithCode(nil, exitFailuresFound)
	}
	return nil
}

// Report is the outcome of a run.
type Report struct {
	Results []*harness.TestResult
	Stats   Stats
}

// Stats summarizes a run.
type Stats struct {
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

func newReport(results []*harness.TestResult, dur time.Duration) *Report {
	r := &Report{Results: results}
	r.Stats.Duration = dur
	for _, res := range results {
		r.Stats.Total++
		switch {
		case res.Skipped:
			r.Stats.Skipped++
		case res.Success:
			r.Stats.Passed++
		default:
			r.Stats.Failed++
		}
	}
	return r
}

func writeReport(w io.Writer, report *Report, opts *Options) error {
	var output string
	var err error

	if opts.JSON {
		output, err = formatJSONOutput(report)
	} else {
		output = formatTextOutput(report, opts)
	}

	if err != nil {
		return err
	}

	_, err = io.WriteString(w, output)
	return err
}

func formatJSONOutput(report *Report) (string, error) {
	cases := make([]jCase, 0, len(report.Results))
	for _, res := range report.Results {
		jc := jCase{
			Name:        res.TestCase.Dir,
			Description: res.TestCase.Description,
			Success:     res.Success,
			Skipped:     res.Skipped,
			Message:     res.Message,
			Duration:    res.Duration,
		}
		for _, cr := range res.ConfigurationResults {
			jcr := jConfiguration{Name: cr.Configuration.Name, ConfigurationResult: cr}
			if cr.Err != nil {
				jcr.Error = cr.Err.Error()
			}
			jc.Configurations = append(jc.Configurations, jcr)
		}
		cases = append(cases, jc)
	}

	data, err := json.MarshalIndent(jOutput{
		Cases:     cases,
		Stats:     report.Stats,
		Version:   version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling json output: %w", err)
	}
	return string(data) + "\n", nil
}

func formatTextOutput(report *Report, opts *Options) string {
	var output strings.Builder

	for _, res := range report.Results {
		name := res.TestCase.Dir
		switch {
		case res.Skipped:
			output.WriteString(fmt.Sprintf("SKIP %s: %s\n", name, res.Message))
		case res.Success:
			output.WriteString(fmt.Sprintf("PASS %s (%s)\n", name, res.Duration.Round(time.Millisecond)))
		default:
			output.WriteString(fmt.Sprintf("FAIL %s (%s)\n", name, res.Duration.Round(time.Millisecond)))
			for _, line := range strings.Split(res.Message, "\n") {
				output.WriteString("    " + line + "\n")
			}
		}

		if opts.Verbose {
			for _, cr := range res.ConfigurationResults {
				output.WriteString(fmt.Sprintf("  [%s] %s\n", cr.Configuration.Name, cr.Message))
				if cr.Workspace != "" {
					output.WriteString(fmt.Sprintf("    workspace: %s\n", cr.Workspace))
				}
			}
		}
	}

	s := report.Stats
	output.WriteString(fmt.Sprintf("\n%d passed, %d failed, %d skipped in %s\n",
		s.Passed, s.Failed, s.Skipped, s.Duration.Round(time.Millisecond)))
	return output.String()
}

type jOutput struct {
	Cases     []jCase `json:"cases"`
	Stats     Stats   `json:"stats"`
	Version   string  `json:"version"`
	Timestamp string  `json:"timestamp"`
}

type jCase struct {
	Name           string           `json:"name"`
	Description    string           `json:"description,omitempty"`
	Success        bool             `json:"success"`
	Skipped        bool             `json:"skipped,omitempty"`
	Message        string           `json:"message"`
	Duration       time.Duration    `json:"duration"`
	Configurations []jConfiguration `json:"configurations,omitempty"`
}

type jConfiguration struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
	harness.ConfigurationResult
}

func writeList(w io.Writer, cases []*harness.TestCase, asJSON bool) error {
	if asJSON {
		type jListed struct {
			Name           string   `json:"name"`
			Description    string   `json:"description,omitempty"`
			Configurations []string `json:"configurations"`
		}
		listed := make([]jListed, 0, len(cases))
		for _, tc := range cases {
			l := jListed{Name: tc.Dir, Description: tc.Description}
			for _, bc := range tc.BuildConfigurations {
				l.Configurations = append(l.Configurations, bc.Name)
			}
			listed = append(listed, l)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(listed)
	}

	for _, tc := range cases {
		line := tc.Dir
		if tc.Description != "" {
			line += "\t" + tc.Description
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// buildFixture provisions name, optionally restores it, builds it once and
// prints what the tool produced.
func buildFixture(cmd *cobra.Command, opts *Options, name string) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return errWithCode(err, exitError)
	}
	invoker, err := cfg.Invoker()
	if err != nil {
		return errWithCode(err, exitError)
	}

	provisioner := &fixture.Provisioner{
		Root:     cfg.FixturesRoot,
		TempRoot: cfg.TempRoot,
		Ignore:   []string{harness.ManifestFile},
		Keep:     cfg.KeepWorkspaces,
	}
	ws, err := provisioner.Provision(name)
	if ws != nil {
		defer func() {
			if err := ws.Close(); err != nil {
				slog.Warn("failed to remove workspace", "dir", ws.Root, "err", err)
			}
		}()
	}
	if err != nil {
		return errWithCode(err, exitError)
	}

	ctx := cmd.Context()
	out := &buildOutput{Workspace: ws.Root, Kept: ws.Keep}
	if opts.Restore {
		restored, err := invoker.Restore(ctx, ws.Dir)
		if err != nil {
			return errWithCode(err, exitError)
		}
		out.Restore = restored.Result
	}

	if out.Restore == nil || out.Restore.Passed() {
		output, err := ws.CreateDirectory(harness.OutputDir)
		if err != nil {
			return errWithCode(err, exitError)
		}
		inv := build.Invocation{
			Project:       build.ProjectPath(ws.Dir),
			Output:        output,
			Framework:     cfg.Framework,
			Configuration: cfg.Configuration,
		}
		built, err := invoker.Build(ctx, inv)
		if err != nil {
			return errWithCode(err, exitError)
		}
		out.Build = built.Result
		if out.Files, err = expect.Files(inv.Output); err != nil && built.Passed() {
			return errWithCode(err, exitError)
		}
	}

	if err := out.write(cmd.OutOrStdout(), opts.JSON); err != nil {
		return errWithCode(fmt.Errorf("format results: %w", err), exitError)
	}
	if !out.passed() {
		return errWithCode(nil, exitFailuresFound)
	}
	return nil
}

type buildOutput struct {
	Workspace string          `json:"workspace"`
	Kept      bool            `json:"kept"`
	Restore   *process.Result `json:"restore,omitempty"`
	Build     *process.Result `json:"build,omitempty"`
	Files     []string        `json:"files,omitempty"`
}

func (o *buildOutput) passed() bool {
	return o.Build != nil && o.Build.Passed()
}

func (o *buildOutput) write(w io.Writer, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(o)
	}

	var output strings.Builder
	for _, step := range []struct {
		name string
		res  *process.Result
	}{{"restore", o.Restore}, {"build", o.Build}} {
		if step.res == nil {
			continue
		}
		output.WriteString(fmt.Sprintf("$ %s\n", step.res))
		output.WriteString(step.res.Stdout)
		output.WriteString(step.res.Stderr)
		output.WriteString(fmt.Sprintf("%s exited with code %d (%s)\n\n", step.name, step.res.ExitCode, step.res.Duration.Round(time.Millisecond)))
	}
	if len(o.Files) > 0 {
		output.WriteString("Output files:\n")
		for _, f := range o.Files {
			output.WriteString("  " + f + "\n")
		}
	}
	if o.Kept {
		output.WriteString(fmt.Sprintf("Workspace kept at %s\n", o.Workspace))
	}
	_, err := io.WriteString(w, output.String())
	return err
}

var cpuProfile *os.File

func setup(opts *Options) error {
	// Disable logger unless verbose flag is set.
	slog.SetDefault(slog.New(slog.DiscardHandler))
	if opts.Verbose {
		logOpts := &slog.HandlerOptions{Level: slog.LevelDebug}
		var handler slog.Handler = slog.NewTextHandler(os.Stderr, logOpts)
		if opts.JSON {
			handler = slog.NewJSONHandler(os.Stderr, logOpts)
		}
		slog.SetDefault(slog.New(handler))
	}

	if !opts.Profile {
		return nil
	}

	// Start CPU profiling.
	var err error
	cpuProfile, err = os.Create("cpu.prof")
	if err != nil {
		return fmt.Errorf("creating cpu.prof: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		_ = cpuProfile.Close()
		cpuProfile = nil
		return fmt.Errorf("starting CPU profile: %w", err)
	}
	slog.Info("cpu profiling started", "file", "cpu.prof")
	return nil
}

func teardown(opts *Options) error {
	if !opts.Profile || cpuProfile == nil {
		return nil
	}

	// Stop CPU profiling and close file.
	pprof.StopCPUProfile()
	defer func() {
		_ = cpuProfile.Close()
		cpuProfile = nil
	}()
	slog.Info("cpu profiling stopped", "file", "cpu.prof")

	// Write memory profile.
	memFile, err := os.Create("mem.prof")
	if err != nil {
		return fmt.Errorf("creating mem.prof: %w", err)
	}
	defer memFile.Close()
	runtime.GC() // Get up-to-date statistics
	if err := pprof.WriteHeapProfile(memFile); err != nil {
		return fmt.Errorf("writing memory profile: %w", err)
	}
	slog.Info("memory profiling completed", "file", "mem.prof")
	return nil
}

// errWithCode attaches an exit code to err. A nil err exits quietly.
func errWithCode(err error, code int) error {
	return codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e codedError) Unwrap() error {
	return e.err
}
