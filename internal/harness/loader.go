package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/tools/txtar"
	yaml "gopkg.in/yaml.v3"

	"github.com/715d/buildcheck/pkg/fixture"
)

// LoadTestCase loads the manifest of the fixture directory dir. The case is
// named after dir's path relative to root when root is given.
func LoadTestCase(dir, root string) (*TestCase, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("load test case: %w", err)
	}
	return parseTestCase(data, caseName(dir, root))
}

// LoadArchiveTestCase loads the manifest embedded in a txtar fixture archive.
func LoadArchiveTestCase(archive, root string) (*TestCase, error) {
	ar, err := txtar.ParseFile(archive)
	if err != nil {
		return nil, fmt.Errorf("load test case: %w", err)
	}
	for _, f := range ar.Files {
		if f.Name == ManifestFile {
			return parseTestCase(f.Data, caseName(strings.TrimSuffix(archive, fixture.ArchiveExt), root))
		}
	}
	return nil, fmt.Errorf("load test case: %s has no %s entry: %w", archive, ManifestFile, os.ErrNotExist)
}

func parseTestCase(data []byte, name string) (*TestCase, error) {
	tc := &TestCase{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(tc); err != nil {
		return nil, fmt.Errorf("parse %s of %s: %w", ManifestFile, name, err)
	}
	tc.Dir = name
	if err := validateTestCase(tc); err != nil {
		return nil, fmt.Errorf("invalid %s of %s: %w", ManifestFile, name, err)
	}
	return tc, nil
}

func caseName(dir, root string) string {
	if root != "" {
		if rel, err := filepath.Rel(root, dir); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.Base(dir)
}

// validateTestCase checks the manifest for required fields.
func validateTestCase(tc *TestCase) error {
	if len(tc.BuildConfigurations) == 0 {
		return errors.New("test case has no build configurations")
	}
	seen := make(map[string]bool)
	for i, cfg := range tc.BuildConfigurations {
		if strings.TrimSpace(cfg.Name) == "" {
			return fmt.Errorf("build configuration at index %d has empty or missing 'name' field", i)
		}
		if seen[cfg.Name] {
			return fmt.Errorf("duplicate build configuration %q", cfg.Name)
		}
		seen[cfg.Name] = true
		if cfg.Repeat < 0 {
			return fmt.Errorf("[%s] repeat must not be negative", cfg.Name)
		}
		if cfg.OmitFramework && cfg.Framework != "" {
			return fmt.Errorf("[%s] framework and omit_framework are mutually exclusive", cfg.Name)
		}
		for j, ft := range cfg.FileContains {
			if ft.Path == "" || ft.Text == "" {
				return fmt.Errorf("[%s] file_contains at index %d needs both 'path' and 'text'", cfg.Name, j)
			}
		}
		if cfg.Run != nil && strings.TrimSpace(cfg.Run.Executable) == "" {
			return fmt.Errorf("[%s] run has empty or missing 'executable' field", cfg.Name)
		}
	}
	return nil
}

// Discover finds every fixture under root that carries a manifest, either
// as a directory holding expected.yaml or as a txtar archive with an
// expected.yaml entry. Cases are returned sorted by name.
func Discover(root string) ([]*TestCase, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("discover test cases: %w", err)
	}

	var testCases []*TestCase
	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())
		switch {
		case entry.IsDir():
			if _, err := os.Stat(filepath.Join(path, ManifestFile)); err != nil {
				continue
			}
			tc, err := LoadTestCase(path, root)
			if err != nil {
				return nil, err
			}
			testCases = append(testCases, tc)
		case strings.HasSuffix(entry.Name(), fixture.ArchiveExt):
			tc, err := LoadArchiveTestCase(path, root)
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, err
			}
			testCases = append(testCases, tc)
		}
	}

	sort.Slice(testCases, func(i, j int) bool { return testCases[i].Dir < testCases[j].Dir })
	return testCases, nil
}

// Filter keeps the cases whose name is in names. An empty names keeps all.
// Unknown names are an error.
func Filter(cases []*TestCase, names []string) ([]*TestCase, error) {
	if len(names) == 0 {
		return cases, nil
	}
	byName := make(map[string]*TestCase, len(cases))
	for _, tc := range cases {
		byName[tc.Dir] = tc
	}
	filtered := make([]*TestCase, 0, len(names))
	for _, name := range names {
		tc, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown test case %q", name)
		}
		filtered = append(filtered, tc)
	}
	return filtered, nil
}
