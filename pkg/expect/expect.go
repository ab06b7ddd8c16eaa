// Package expect implements read-only checks over build outputs and captured
// process text. Checks never stop at the first failure; they accumulate
// Failures that carry the literal expected and actual values.
package expect

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Failure is one unmet expectation.
type Failure struct {
	// Check names the kind of check, e.g. "file-exists".
	Check string `json:"check"`

	// Subject is what was inspected: a path or a stream name.
	Subject string `json:"subject"`

	// Expected is the literal expected value.
	Expected string `json:"expected"`

	// Actual is the literal observed value.
	Actual string `json:"actual"`
}

func (f Failure) String() string {
	return fmt.Sprintf("%s %s: expected %q, got %q", f.Check, f.Subject, f.Expected, f.Actual)
}

// AssertionError reports every failure of a Checker.
type AssertionError struct {
	Failures []Failure
}

func (e *AssertionError) Error() string {
	lines := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		lines = append(lines, f.String())
	}
	return fmt.Sprintf("%d expectation(s) not met:\n  %s", len(e.Failures), strings.Join(lines, "\n  "))
}

// Checker accumulates failures. The zero value is ready to use.
type Checker struct {
	failures []Failure
}

// Failures returns the failures recorded so far.
func (c *Checker) Failures() []Failure {
	return c.failures
}

// OK reports whether no failure has been recorded.
func (c *Checker) OK() bool {
	return len(c.failures) == 0
}

// Err returns an *AssertionError when any check failed.
func (c *Checker) Err() error {
	if c.OK() {
		return nil
	}
	return &AssertionError{Failures: append([]Failure(nil), c.failures...)}
}

// Fail records a failure directly.
func (c *Checker) Fail(check, subject, expected, actual string) {
	c.failures = append(c.failures, Failure{Check: check, Subject: subject, Expected: expected, Actual: actual})
}

// Passed checks that a process exited with status 0.
func (c *Checker) Passed(subject string, exitCode int) bool {
	if exitCode == 0 {
		return true
	}
	c.Fail("exit-code", subject, "0", fmt.Sprint(exitCode))
	return false
}

// Failed checks that a process exited with a non-zero status.
func (c *Checker) Failed(subject string, exitCode int) bool {
	if exitCode != 0 {
		return true
	}
	c.Fail("exit-code", subject, "non-zero", "0")
	return false
}

// FileExists checks that rel exists under root. rel uses forward slashes and
// may be a doublestar glob, in which case at least one match must exist.
func (c *Checker) FileExists(root, rel string) bool {
	matches, err := match(root, rel)
	if err != nil {
		c.Fail("file-exists", rel, "exists", err.Error())
		return false
	}
	if len(matches) == 0 {
		c.Fail("file-exists", filepath.Join(root, filepath.FromSlash(rel)), "exists", "missing")
		return false
	}
	return true
}

// FileMissing checks that nothing under root matches rel.
func (c *Checker) FileMissing(root, rel string) bool {
	matches, err := match(root, rel)
	if err != nil {
		c.Fail("file-missing", rel, "missing", err.Error())
		return false
	}
	if len(matches) > 0 {
		c.Fail("file-missing", filepath.Join(root, filepath.FromSlash(rel)), "missing", strings.Join(matches, ", "))
		return false
	}
	return true
}

// FileContains checks that the file at root/rel contains text.
func (c *Checker) FileContains(root, rel, text string) bool {
	path := filepath.Join(root, filepath.FromSlash(rel))
	data, err := os.ReadFile(path)
	if err != nil {
		c.Fail("file-contains", path, text, err.Error())
		return false
	}
	return c.Contains(path, string(data), text)
}

// Contains checks that text holds want.
func (c *Checker) Contains(subject, text, want string) bool {
	if strings.Contains(text, want) {
		return true
	}
	c.Fail("contains", subject, want, text)
	return false
}

// NotContains checks that text does not hold unwanted.
func (c *Checker) NotContains(subject, text, unwanted string) bool {
	if !strings.Contains(text, unwanted) {
		return true
	}
	c.Fail("not-contains", subject, unwanted, text)
	return false
}

// Files lists every regular file under root as slash-separated relative
// paths, sorted.
func Files(root string) ([]string, error) {
	var files []string
	err := fs.WalkDir(os.DirFS(root), ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func match(root, rel string) ([]string, error) {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "./")
	if !hasMeta(rel) {
		_, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
		switch {
		case err == nil:
			return []string{rel}, nil
		case errors.Is(err, fs.ErrNotExist):
			return nil, nil
		default:
			return nil, err
		}
	}
	if !doublestar.ValidatePattern(rel) {
		return nil, fmt.Errorf("%w: %s", doublestar.ErrBadPattern, rel)
	}
	matches, err := doublestar.Glob(os.DirFS(root), rel)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return matches, nil
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, `*?[{`)
}
