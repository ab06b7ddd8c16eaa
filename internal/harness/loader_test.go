package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadTestCase(t *testing.T) {
	root := testdataDir(t)

	tc, err := LoadTestCase(filepath.Join(root, "TestLibrary"), root)
	require.NoError(t, err)
	require.Equal(t, "TestLibrary", tc.Dir)
	require.Equal(t, "TestLibrary", tc.AssemblyName())
	require.Equal(t, []string{"global.json"}, tc.RootFiles)
	require.NotEmpty(t, tc.BuildConfigurations)
}

func TestLoadArchiveTestCase(t *testing.T) {
	root := testdataDir(t)

	tc, err := LoadArchiveTestCase(filepath.Join(root, "TestAppWithContentPackage.txtar"), root)
	require.NoError(t, err)
	require.Equal(t, "TestAppWithContentPackage", tc.Dir)
	require.True(t, tc.Restore)
	require.Len(t, tc.BuildConfigurations, 1)

	cfg := tc.BuildConfigurations[0]
	require.True(t, cfg.OmitFramework)
	require.NotNil(t, cfg.Run)
	require.Equal(t, "{assembly}.exe", cfg.Run.Executable)
	require.Contains(t, cfg.Run.Stdout.NotContains, "TestAppWithContentPackage.ui_all.png")
}

func TestLoadArchiveTestCase_NoManifest(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "Plain.txtar")
	require.NoError(t, os.WriteFile(archive, []byte("-- project.json --\n{}\n"), 0o644))

	_, err := LoadArchiveTestCase(archive, dir)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseTestCase_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		wantErr  string
	}{
		{
			name:     "no configurations",
			manifest: "description: nothing\n",
			wantErr:  "no build configurations",
		},
		{
			name:     "missing name",
			manifest: "build_configurations:\n  - framework: net46\n",
			wantErr:  "empty or missing 'name'",
		},
		{
			name:     "duplicate name",
			manifest: "build_configurations:\n  - name: a\n  - name: a\n",
			wantErr:  `duplicate build configuration "a"`,
		},
		{
			name:     "negative repeat",
			manifest: "build_configurations:\n  - name: a\n    repeat: -1\n",
			wantErr:  "repeat must not be negative",
		},
		{
			name:     "framework and omit",
			manifest: "build_configurations:\n  - name: a\n    framework: net46\n    omit_framework: true\n",
			wantErr:  "mutually exclusive",
		},
		{
			name:     "file_contains without text",
			manifest: "build_configurations:\n  - name: a\n    file_contains:\n      - path: a.xml\n",
			wantErr:  "needs both 'path' and 'text'",
		},
		{
			name:     "run without executable",
			manifest: "build_configurations:\n  - name: a\n    run:\n      args: [x]\n",
			wantErr:  "empty or missing 'executable'",
		},
		{
			name:     "unknown field",
			manifest: "build_configurations:\n  - name: a\n    expect_fail: true\n",
			wantErr:  "field expect_fail not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseTestCase([]byte(tt.manifest), "Case")
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDiscover(t *testing.T) {
	root := testdataDir(t)

	cases, err := Discover(root)
	require.NoError(t, err)

	var names []string
	for _, tc := range cases {
		names = append(names, tc.Dir)
	}
	require.Equal(t, []string{
		"TestAppWithContentPackage",
		"TestLibrary",
		"TestLibraryWithAnalyzer",
		"TestProjectWithCultureSpecificResource",
	}, names)
}

func TestDiscover_SkipsDirectoriesWithoutManifest(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "Plain", map[string]string{"project.json": "{}"})
	writeFixture(t, root, "Checked", map[string]string{
		"project.json": "{}",
		ManifestFile:   "build_configurations:\n  - name: default\n",
	})

	cases, err := Discover(root)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	require.Equal(t, "Checked", cases[0].Dir)
}

func TestDiscover_InvalidManifest(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "Broken", map[string]string{ManifestFile: "build_configurations: []\n"})

	_, err := Discover(root)
	require.ErrorContains(t, err, "invalid expected.yaml of Broken")
}

func TestFilter(t *testing.T) {
	cases := []*TestCase{{Dir: "a"}, {Dir: "b"}, {Dir: "c"}}

	all, err := Filter(cases, nil)
	require.NoError(t, err)
	require.Equal(t, cases, all)

	some, err := Filter(cases, []string{"c", "a"})
	require.NoError(t, err)
	require.Equal(t, []*TestCase{cases[2], cases[0]}, some)

	_, err = Filter(cases, []string{"z"})
	require.ErrorContains(t, err, `unknown test case "z"`)
}
