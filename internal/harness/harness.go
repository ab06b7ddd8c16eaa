package harness

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/715d/buildcheck/internal/config"
	"github.com/715d/buildcheck/pkg/build"
	"github.com/715d/buildcheck/pkg/diag"
	"github.com/715d/buildcheck/pkg/expect"
	"github.com/715d/buildcheck/pkg/fixture"
	"github.com/715d/buildcheck/pkg/process"
)

// OutputDir is the output directory handed to the build tool, relative to
// the workspace project directory.
const OutputDir = "bin"

// TestHarness manages test execution.
type TestHarness struct {
	cfg         config.Config
	provisioner *fixture.Provisioner
	invoker     *build.Invoker

	// runner runs produced executables.
	runner *process.Runner
}

// NewHarness creates a harness for cfg.
func NewHarness(cfg config.Config) (*TestHarness, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	invoker, err := cfg.Invoker()
	if err != nil {
		return nil, err
	}
	return &TestHarness{
		cfg: cfg,
		provisioner: &fixture.Provisioner{
			Root:     cfg.FixturesRoot,
			TempRoot: cfg.TempRoot,
			Ignore:   []string{ManifestFile},
		},
		invoker: invoker,
		runner:  &process.Runner{Env: invoker.Runner.Env},
	}, nil
}

// Config returns the harness configuration.
func (h *TestHarness) Config() config.Config {
	return h.cfg
}

// RunAll runs cases concurrently, at most cfg.Parallel at a time, and returns
// their results in input order.
func (h *TestHarness) RunAll(ctx context.Context, cases []*TestCase) []*TestResult {
	results := make([]*TestResult, len(cases))

	var wg errgroup.Group
	wg.SetLimit(h.cfg.Parallel)
	for i, tc := range cases {
		wg.Go(func() error {
			results[i] = h.Run(ctx, tc)
			return nil
		})
	}
	_ = wg.Wait()
	return results
}

// Run executes a test case with all its build configurations.
func (h *TestHarness) Run(ctx context.Context, tc *TestCase) *TestResult {
	if reason := tc.SkipReason(runtime.GOOS); reason != "" {
		slog.Debug("skipping test case", "case", tc.Dir, "reason", reason)
		return &TestResult{TestCase: tc, Success: true, Skipped: true, Message: reason}
	}

	start := time.Now()
	var results []ConfigurationResult
	var allSuccess = true

	// Run each configuration.
	for _, cfg := range tc.BuildConfigurations {
		cfgResult := h.runConfiguration(ctx, tc, cfg)
		results = append(results, *cfgResult)
		if !cfgResult.Success {
			allSuccess = false
		}
	}

	// Create overall result message.
	var resultMsg string
	if allSuccess {
		resultMsg = fmt.Sprintf("All %d configurations passed", len(tc.BuildConfigurations))
	} else {
		failedCount := 0
		var msgs []string
		for _, cr := range results {
			if !cr.Success {
				failedCount++
				msgs = append(msgs, fmt.Sprintf("[%s] %s:\n  %s",
					cr.Configuration.Name, cr.Message, strings.Join(cr.Details, "\n  ")))
			}
		}
		resultMsg = fmt.Sprintf("%d/%d configurations failed:\n%s",
			failedCount, len(tc.BuildConfigurations), strings.Join(msgs, "\n"))
	}

	slog.Debug("test case finished", "case", tc.Dir, "success", allSuccess, "dur", time.Since(start))
	return &TestResult{
		TestCase:             tc,
		ConfigurationResults: results,
		Success:              allSuccess,
		Message:              resultMsg,
		Duration:             time.Since(start),
	}
}

// runConfiguration provisions a workspace, builds and checks one configuration.
func (h *TestHarness) runConfiguration(ctx context.Context, tc *TestCase, cfg BuildConfiguration) *ConfigurationResult {
	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}

	res := &ConfigurationResult{Configuration: cfg}
	ws, err := h.provisioner.Provision(tc.Dir)
	if ws != nil {
		res.Workspace = ws.Root
		defer func() {
			ws.Keep = h.cfg.KeepWorkspaces || (h.cfg.KeepFailed && !res.Success)
			if err := ws.Close(); err != nil {
				slog.Warn("failed to remove workspace", "dir", ws.Root, "err", err)
			}
		}()
	}
	if err != nil {
		return res.abort("provision", err)
	}

	for _, name := range tc.RootFiles {
		if _, err := ws.CopyFile(filepath.Join(h.cfg.FixturesRoot, filepath.FromSlash(name))); err != nil {
			return res.abort("copy root file", err)
		}
	}

	if tc.Restore {
		restored, err := h.invoker.Restore(ctx, ws.Dir)
		if err != nil {
			return res.abort("restore", err)
		}
		res.Restore = restored.Result
		if !restored.Passed() {
			var c expect.Checker
			c.Passed("restore", restored.ExitCode)
			c.Fail("restore-output", "stderr", "", restored.Stderr)
			return res.finish(&c)
		}
	}

	output, err := ws.CreateDirectory(OutputDir)
	if err != nil {
		return res.abort("create output directory", err)
	}
	inv := h.invocation(ws, output, cfg)
	vars := strings.NewReplacer(
		"{configuration}", configurationOf(inv),
		"{framework}", inv.Framework,
		"{assembly}", tc.AssemblyName(),
	)

	var c expect.Checker
	var firstFiles []string
	repeat := max(cfg.Repeat, 1)
	for i := range repeat {
		built, err := h.invoker.Build(ctx, inv)
		if err != nil {
			return res.abort("build", err)
		}
		res.Build = built.Result
		slog.Debug("build finished", "case", tc.Dir, "config", cfg.Name, "iteration", i+1, "code", built.ExitCode)

		// Every repetition must give the same exit status, not just the last.
		subject := "build"
		if repeat > 1 {
			subject = fmt.Sprintf("build #%d", i+1)
		}
		if cfg.ExpectFailure {
			c.Failed(subject, built.ExitCode)
		} else if !c.Passed(subject, built.ExitCode) {
			c.Fail("build-output", "stderr", "", built.Stderr)
			return res.finish(&c)
		}

		files, err := expect.Files(inv.Output)
		if err != nil && built.Passed() {
			c.Fail("output-files", inv.Output, "readable", err.Error())
		}
		if i == 0 {
			firstFiles = files
		} else if !slices.Equal(firstFiles, files) {
			c.Fail("idempotent", subject, strings.Join(firstFiles, ", "), strings.Join(files, ", "))
		}
		res.OutputFiles = files
	}

	built := res.Build
	for _, rel := range cfg.Files {
		c.FileExists(inv.Output, vars.Replace(rel))
	}
	for _, rel := range cfg.MissingFiles {
		c.FileMissing(inv.Output, vars.Replace(rel))
	}
	for _, ft := range cfg.FileContains {
		c.FileContains(inv.Output, vars.Replace(ft.Path), ft.Text)
	}
	checkText(&c, "build stdout", built.Stdout, cfg.Stdout)
	checkText(&c, "build stderr", built.Stderr, cfg.Stderr)

	if len(cfg.Diagnostics) > 0 {
		res.Diagnostics = diag.ScanString(built.Stdout + "\n" + built.Stderr)
		codes := diag.Codes(res.Diagnostics)
		for _, code := range cfg.Diagnostics {
			if !slices.Contains(codes, code) {
				c.Fail("diagnostic", "build output", code, strings.Join(codes, ", "))
			}
		}
	}

	if cfg.Run != nil && c.OK() {
		exe := filepath.Join(inv.Output, filepath.FromSlash(vars.Replace(cfg.Run.Executable)))
		ran, err := h.runner.Run(ctx, exe, cfg.Run.Args...)
		if err != nil {
			return res.abort("run", err)
		}
		res.Run = ran
		if cfg.Run.ExpectFailure {
			c.Failed(exe, ran.ExitCode)
		} else {
			c.Passed(exe, ran.ExitCode)
		}
		checkText(&c, "run stdout", ran.Stdout, cfg.Run.Stdout)
		checkText(&c, "run stderr", ran.Stderr, cfg.Run.Stderr)
	}

	return res.finish(&c)
}

func (h *TestHarness) invocation(ws *fixture.Workspace, output string, cfg BuildConfiguration) build.Invocation {
	inv := build.Invocation{
		Project:       build.ProjectPath(ws.Dir),
		Output:        output,
		Framework:     h.cfg.Framework,
		Configuration: h.cfg.Configuration,
	}
	if cfg.Framework != "" {
		inv.Framework = cfg.Framework
	}
	if cfg.OmitFramework {
		inv.Framework = ""
	}
	if cfg.Configuration != "" {
		inv.Configuration = cfg.Configuration
	}
	return inv
}

func configurationOf(inv build.Invocation) string {
	if inv.Configuration == "" {
		return build.DefaultConfiguration
	}
	return inv.Configuration
}

func checkText(c *expect.Checker, subject, text string, exp TextExpectation) {
	for _, want := range exp.Contains {
		c.Contains(subject, text, want)
	}
	for _, unwanted := range exp.NotContains {
		c.NotContains(subject, text, unwanted)
	}
}

// ConfigurationResult represents the result of running a single build configuration.
type ConfigurationResult struct {
	// Configuration is the build configuration that was run.
	Configuration BuildConfiguration `json:"-"`

	// Workspace is the per-run directory the fixture was copied into.
	Workspace string `json:"workspace,omitempty"`

	// Restore, Build and Run are the captured processes, when they ran.
	Restore *process.Result `json:"restore,omitempty"`
	Build   *process.Result `json:"build,omitempty"`
	Run     *process.Result `json:"run,omitempty"`

	// OutputFiles lists the files under the output directory after the last build.
	OutputFiles []string `json:"output_files,omitempty"`

	// Diagnostics are the coded diagnostics parsed from the build output.
	Diagnostics []diag.Diagnostic `json:"diagnostics,omitempty"`

	// Failures are the unmet expectations.
	Failures []expect.Failure `json:"failures,omitempty"`

	// Err is set when the configuration could not be run at all.
	Err error `json:"-"`

	// Success indicates if this configuration passed.
	Success bool `json:"success"`

	// Message provides a summary of the result for this configuration.
	Message string `json:"message"`

	// Details provides detailed information about failures for this configuration.
	Details []string `json:"details,omitempty"`
}

func (r *ConfigurationResult) abort(stage string, err error) *ConfigurationResult {
	r.Err = fmt.Errorf("%s: %w", stage, err)
	r.Success = false
	r.Message = "Error: " + r.Err.Error()
	r.Details = []string{r.Err.Error()}
	return r
}

func (r *ConfigurationResult) finish(c *expect.Checker) *ConfigurationResult {
	r.Failures = c.Failures()
	r.Success = c.OK()
	if r.Success {
		r.Message = "All expectations met"
		return r
	}
	r.Message = fmt.Sprintf("Test failed: %d expectation(s) not met", len(r.Failures))
	for _, f := range r.Failures {
		r.Details = append(r.Details, f.String())
	}
	return r
}

// TestResult represents the result of running a test case.
type TestResult struct {
	// TestCase is the test case that was run.
	TestCase *TestCase `json:"-"`

	// ConfigurationResults contains results for each build configuration.
	ConfigurationResults []ConfigurationResult `json:"configurations,omitempty"`

	// Success indicates if the test passed (all configurations passed)
	Success bool `json:"success"`

	// Skipped indicates if the test was skipped.
	Skipped bool `json:"skipped,omitempty"`

	// Message provides a summary of the result.
	Message string `json:"message"`

	// Duration is the wall time of the whole case.
	Duration time.Duration `json:"duration"`
}
