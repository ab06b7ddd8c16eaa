package build

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/buildcheck/pkg/process"
)

const helperEnv = "BUILDCHECK_BUILD_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		// Echo the received arguments one per line; fail when asked to.
		args := os.Args[1:]
		fmt.Fprint(os.Stdout, strings.Join(args, "\n"))
		if len(args) > 0 && args[0] == "fail" {
			fmt.Fprint(os.Stderr, "error CS0103: boom")
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func helperInvoker(buildVerb string) *Invoker {
	return &Invoker{
		BuildCommand:   []string{os.Args[0], buildVerb},
		RestoreCommand: []string{os.Args[0], "restore"},
		Runner:         &process.Runner{Env: append(os.Environ(), helperEnv+"=1")},
	}
}

func TestInvocation_Args(t *testing.T) {
	tests := []struct {
		name string
		inv  Invocation
		want []string
	}{
		{
			name: "project only",
			inv:  Invocation{Project: "p/project.json"},
			want: []string{"p/project.json"},
		},
		{
			name: "output and framework",
			inv:  Invocation{Project: "p/project.json", Output: "p/bin", Framework: "netstandard1.5"},
			want: []string{"p/project.json", "--output", "p/bin", "--framework", "netstandard1.5"},
		},
		{
			name: "all",
			inv:  Invocation{Project: "x", Output: "o", Framework: "f", Configuration: "Release"},
			want: []string{"x", "--output", "o", "--framework", "f", "--configuration", "Release"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.inv.Args())
		})
	}
}

func TestInvocation_ArtifactDir(t *testing.T) {
	inv := Invocation{Output: "bin", Framework: "net8.0"}
	require.Equal(t, filepath.Join("bin", "Debug", "net8.0"), inv.ArtifactDir())

	inv.Configuration = "Release"
	require.Equal(t, filepath.Join("bin", "Release", "net8.0"), inv.ArtifactDir())
}

func TestProjectPath(t *testing.T) {
	require.Equal(t, filepath.Join("a", "b", "project.json"), ProjectPath(filepath.Join("a", "b")))
}

func TestInvoker_Build(t *testing.T) {
	t.Parallel()

	res, err := helperInvoker("build").Build(t.Context(), Invocation{
		Project:   "proj/project.json",
		Output:    "proj/bin",
		Framework: "netstandard1.5",
	})
	require.NoError(t, err)
	require.True(t, res.Passed())
	require.Equal(t, "build\nproj/project.json\n--output\nproj/bin\n--framework\nnetstandard1.5", res.Stdout)
}

func TestInvoker_BuildFailure(t *testing.T) {
	t.Parallel()

	res, err := helperInvoker("fail").Build(t.Context(), Invocation{Project: "proj/project.json"})
	require.NoError(t, err)
	require.False(t, res.Passed())
	require.Equal(t, 1, res.ExitCode)
	require.Contains(t, res.Stderr, "CS0103")
}

func TestInvoker_Restore(t *testing.T) {
	t.Parallel()

	res, err := helperInvoker("build").Restore(t.Context(), "proj")
	require.NoError(t, err)
	require.True(t, res.Passed())
	require.Equal(t, "restore\nproj", res.Stdout)
}

func TestInvoker_Errors(t *testing.T) {
	t.Parallel()

	_, err := (&Invoker{}).Build(t.Context(), Invocation{Project: "p"})
	require.ErrorContains(t, err, "no command configured")

	_, err = helperInvoker("build").Build(t.Context(), Invocation{})
	require.ErrorContains(t, err, "project path is required")

	inv := &Invoker{BuildCommand: []string{"buildcheck-missing-tool", "build"}}
	_, err = inv.Build(t.Context(), Invocation{Project: "p"})
	var launchErr *process.LaunchError
	require.ErrorAs(t, err, &launchErr)
	require.ErrorIs(t, err, process.ErrNotFound)
}
