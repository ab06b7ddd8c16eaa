package fakebuild

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "Proj")
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Main(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

const helperSource = `using System;

namespace TestLibrary
{
    public static class Helper
    {
        /// <summary>
        /// Gets the message from the helper.
        /// </summary>
        public static string GetMessage()
        {
            return "Hello";
        }
    }
}
`

func TestBuild_Documentation(t *testing.T) {
	t.Parallel()
	dir := writeProject(t, map[string]string{
		"project.json": `{"compilationOptions":{"xmlDoc":true},"frameworks":{"netstandard1.5":{}}}`,
		"Helper.cs":    helperSource,
	})
	out := filepath.Join(dir, "bin")

	code, stdout, stderr := run("build", filepath.Join(dir, "project.json"), "--output", out, "--framework", "netstandard1.5")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "Compiling Proj for netstandard1.5")

	data, err := os.ReadFile(filepath.Join(out, "Debug", "netstandard1.5", "Proj.xml"))
	require.NoError(t, err)
	require.Contains(t, string(data), `<member name="M:TestLibrary.Helper.GetMessage">`)
	require.Contains(t, string(data), "Gets the message from the helper.")
	require.FileExists(t, filepath.Join(out, "Debug", "netstandard1.5", "Proj.dll"))
}

func TestBuild_FlagsBeforeProject(t *testing.T) {
	t.Parallel()
	dir := writeProject(t, map[string]string{
		"project.json": `{"frameworks":{"netstandard1.5":{}}}`,
	})
	out := filepath.Join(dir, "out")

	code, _, stderr := run("build", "--output", out, "--configuration", "Release", filepath.Join(dir, "project.json"))
	require.Equal(t, 0, code, stderr)
	require.FileExists(t, filepath.Join(out, "Release", "netstandard1.5", "Proj.dll"))
}

func TestBuild_SatelliteAssembly(t *testing.T) {
	t.Parallel()
	dir := writeProject(t, map[string]string{
		"project.json":    `{"name":"Res","frameworks":{"net8.0":{}},"resource":["*.resx"]}`,
		"Strings.resx":    "<root/>",
		"Strings.fr.resx": "<root/>",
	})

	code, _, stderr := run("build", filepath.Join(dir, "project.json"), "--configuration", "Release")
	require.Equal(t, 0, code, stderr)
	require.FileExists(t, filepath.Join(dir, "bin", "Release", "net8.0", "fr", "Res.resources.dll"))
	require.NoFileExists(t, filepath.Join(dir, "bin", "Release", "net8.0", "Res.xml"))
}

func TestBuild_Analyzer(t *testing.T) {
	t.Parallel()
	dir := writeProject(t, map[string]string{
		"project.json": `{"frameworks":{"netstandard1.5":{}},"dependencies":{"System.Runtime.Analyzers":{"version":"1.1.0","type":"build"}}}`,
		"Attr.cs": `namespace Lib
{
    public sealed class NoUsageAttribute : Attribute { }

    [AttributeUsage(AttributeTargets.Class)]
    public sealed class GoodAttribute : Attribute { }
}
`,
	})

	code, _, stderr := run("build", filepath.Join(dir, "project.json"))
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "NU1009")

	code, stdout, _ := run("restore", dir)
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "Installed System.Runtime.Analyzers")

	code, stdout, stderr = run("build", filepath.Join(dir, "project.json"))
	require.Equal(t, 0, code, stderr)
	require.Equal(t, "Attr.cs(3,25): warning CA1018: Specify AttributeUsage on NoUsageAttribute\n", stderr)
	require.Contains(t, stdout, "1 Warning(s)")
}

func TestBuild_EntryPointAndContent(t *testing.T) {
	t.Parallel()
	dir := writeProject(t, map[string]string{
		"project.json": `{
  "compilationOptions": {"emitEntryPoint": true},
  "frameworks": {"netcoreapp1.0": {}},
  "resource": ["*.png"],
  "resourceExclude": ["*_all.png"],
  "content": ["scripts/run.cmd", "config.xml"]
}`,
		"Program.cs":      "namespace Proj\n{\n    class Program\n    {\n        static void Main() { }\n    }\n}\n",
		"dnf.png":         "png",
		"dnf_all.png":     "png",
		"scripts/run.cmd": "@echo off",
		"config.xml":      "<config/>",
	})
	out := filepath.Join(dir, "out")

	code, _, stderr := run("build", filepath.Join(dir, "project.json"), "--output", out)
	require.Equal(t, 0, code, stderr)
	require.FileExists(t, filepath.Join(out, "scripts", "run.cmd"))
	require.FileExists(t, filepath.Join(out, "config.xml"))

	exe, err := os.ReadFile(filepath.Join(out, "Proj.exe"))
	require.NoError(t, err)
	require.Contains(t, string(exe), "Proj.dnf.png")
	require.NotContains(t, string(exe), "dnf_all")
	require.Contains(t, string(exe), "Proj.Program")

	info, err := os.Stat(filepath.Join(out, "Proj.exe"))
	require.NoError(t, err)
	require.NotZero(t, info.Mode().Perm()&0o100)
}

func TestBuild_Errors(t *testing.T) {
	t.Parallel()
	dir := writeProject(t, map[string]string{
		"project.json": `{"frameworks":{"net8.0":{}},"compilationOptions":{"emitEntryPoint":true},"content":["missing.txt"]}`,
	})

	tests := []struct {
		name     string
		args     []string
		code     int
		inStderr string
	}{
		{name: "no args", args: nil, code: 2, inStderr: "usage"},
		{name: "unknown verb", args: []string{"publish"}, code: 2, inStderr: `unknown command "publish"`},
		{name: "no project", args: []string{"build", "--output", "x"}, code: 2, inStderr: "usage"},
		{name: "unknown flag", args: []string{"build", filepath.Join(dir, "project.json"), "--verbose"}, code: 2, inStderr: "unknown flag: --verbose"},
		{name: "missing project", args: []string{"build", filepath.Join(dir, "nope.json")}, code: 1, inStderr: "error:"},
		{name: "unsupported framework", args: []string{"build", filepath.Join(dir, "project.json"), "--framework", "net48"}, code: 1, inStderr: "NU1002"},
		{name: "missing content", args: []string{"build", filepath.Join(dir, "project.json")}, code: 1, inStderr: "content file"},
		{name: "restore usage", args: []string{"restore"}, code: 2, inStderr: "usage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := run(tt.args...)
			require.Equal(t, tt.code, code)
			require.Contains(t, stderr, tt.inStderr)
		})
	}
}

func TestScanSource(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "Util.cs")
	require.NoError(t, os.WriteFile(path, []byte(`namespace MyNamespace
{
    /// <summary>Utility type.</summary>
    public class Util
    {
        /// <summary>The name.</summary>
        public string Name { get; set; }

        // not a doc comment
        public void Run() { }
    }
}
`), 0o644))

	src, err := scanSource(path)
	require.NoError(t, err)
	require.Equal(t, []string{"MyNamespace.Util"}, src.Classes)
	require.Equal(t, []Member{
		{ID: "T:MyNamespace.Util", Summary: "Utility type."},
		{ID: "P:MyNamespace.Util.Name", Summary: "The name."},
	}, src.Members)
	require.Empty(t, src.Issues)
}

func TestCultureOf(t *testing.T) {
	tests := map[string]string{
		"Strings.fr.resx":        "fr",
		"res/Strings.pt-BR.resx": "pt-BR",
		"Strings.resx":           "",
		"dnf.png":                "",
	}
	for name, want := range tests {
		require.Equal(t, want, cultureOf(name), name)
	}
}
