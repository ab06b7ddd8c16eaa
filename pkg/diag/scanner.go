// Package diag extracts compiler and analyzer diagnostics from captured
// build output.
package diag

import (
	"bufio"
	"errors"
	"io"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Severity of a diagnostic as printed by the tool.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic is one coded message emitted during a build.
type Diagnostic struct {
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

// Compile patterns once at package initialization.
var (
	// Located diagnostic: Foo.cs(12,5): warning CA1018: Mark attributes with AttributeUsageAttribute
	locatedPattern = regexp.MustCompile(`^\s*(.+?)\((\d+)(?:,(\d+))?(?:,\d+,\d+)?\)\s*:\s*(error|warning|info)\s+([A-Za-z]+\d+)\s*:\s*(.*)$`)

	// Bare diagnostic: warning CS1591: Missing XML comment
	barePattern = regexp.MustCompile(`^\s*(?:(.+?)\s*:\s*)?(error|warning|info)\s+([A-Za-z]+\d+)\s*:\s*(.*)$`)
)

// Scan reads r line by line and returns every diagnostic found, in order.
// Lines of any length are accepted.
func Scan(r io.Reader) ([]Diagnostic, error) {
	var diags []Diagnostic
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if d, ok := ParseLine(strings.TrimSuffix(line, "\n")); ok {
			diags = append(diags, d)
		}
		if errors.Is(err, io.EOF) {
			return diags, nil
		}
		if err != nil {
			return diags, err
		}
	}
}

// ScanString is Scan over an in-memory string.
func ScanString(s string) []Diagnostic {
	// Reading a strings.Reader only ends in io.EOF.
	diags, _ := Scan(strings.NewReader(s))
	return diags
}

// ParseLine parses a single line of tool output.
func ParseLine(line string) (Diagnostic, bool) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return Diagnostic{}, false
	}

	if m := locatedPattern.FindStringSubmatch(line); m != nil {
		d := Diagnostic{
			File:     strings.TrimSpace(m[1]),
			Severity: Severity(m[4]),
			Code:     m[5],
			Message:  strings.TrimSpace(m[6]),
		}
		d.Line, _ = strconv.Atoi(m[2])
		if m[3] != "" {
			d.Column, _ = strconv.Atoi(m[3])
		}
		return d, true
	}

	if m := barePattern.FindStringSubmatch(line); m != nil {
		return Diagnostic{
			File:     strings.TrimSpace(m[1]),
			Severity: Severity(m[2]),
			Code:     m[3],
			Message:  strings.TrimSpace(m[4]),
		}, true
	}
	return Diagnostic{}, false
}

// Codes returns the sorted, de-duplicated diagnostic codes.
func Codes(diags []Diagnostic) []string {
	codes := make([]string, 0, len(diags))
	for _, d := range diags {
		codes = append(codes, d.Code)
	}
	slices.Sort(codes)
	return slices.Compact(codes)
}
