package diag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		want   Diagnostic
		wantOK bool
	}{
		{
			name: "located analyzer warning",
			line: "Attr.cs(5,18): warning CA1018: Specify AttributeUsage on MyAttribute",
			want: Diagnostic{
				File:     "Attr.cs",
				Line:     5,
				Column:   18,
				Severity: SeverityWarning,
				Code:     "CA1018",
				Message:  "Specify AttributeUsage on MyAttribute",
			},
			wantOK: true,
		},
		{
			name: "located with span",
			line: `C:\src\Foo.cs(1,2,1,9): error CS0103: The name 'x' does not exist`,
			want: Diagnostic{
				File:     `C:\src\Foo.cs`,
				Line:     1,
				Column:   2,
				Severity: SeverityError,
				Code:     "CS0103",
				Message:  "The name 'x' does not exist",
			},
			wantOK: true,
		},
		{
			name: "line only",
			line: "Foo.cs(7): info IDE0005: Using directive is unnecessary.",
			want: Diagnostic{
				File:     "Foo.cs",
				Line:     7,
				Severity: SeverityInfo,
				Code:     "IDE0005",
				Message:  "Using directive is unnecessary.",
			},
			wantOK: true,
		},
		{
			name: "bare",
			line: "warning CS1591: Missing XML comment\r",
			want: Diagnostic{
				Severity: SeverityWarning,
				Code:     "CS1591",
				Message:  "Missing XML comment",
			},
			wantOK: true,
		},
		{
			name: "tool prefix",
			line: "CSC : error CS5001: Program does not contain a static 'Main' method",
			want: Diagnostic{
				File:     "CSC",
				Severity: SeverityError,
				Code:     "CS5001",
				Message:  "Program does not contain a static 'Main' method",
			},
			wantOK: true,
		},
		{name: "progress line", line: "Compiling TestLibrary for .NETStandard,Version=v1.5"},
		{name: "empty", line: "   "},
		{name: "uncoded warning", line: "warning: something vague"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseLine(tt.line)
			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestScan(t *testing.T) {
	out := strings.Join([]string{
		"Project TestLibraryWithAnalyzer (.NETStandard,Version=v1.5) will be compiled because inputs were modified",
		"Compiling TestLibraryWithAnalyzer for .NETStandard,Version=v1.5",
		"Attr.cs(3,14): warning CA1018: Specify AttributeUsage on MyAttribute",
		"Util.cs(9,1): warning CA1018: Specify AttributeUsage on OtherAttribute",
		"warning CS1591: Missing XML comment for publicly visible type",
		"Compilation succeeded.",
	}, "\n")

	diags, err := Scan(strings.NewReader(out))
	require.NoError(t, err)
	require.Len(t, diags, 3)
	require.Equal(t, []string{"CA1018", "CS1591"}, Codes(diags))
	require.Equal(t, diags, ScanString(out))
}

func TestScan_LongLine(t *testing.T) {
	out := strings.Repeat("x", 2<<20) + "\nFoo.cs(1,1): warning CA1018: msg\n"

	diags, err := Scan(strings.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, []string{"CA1018"}, Codes(diags))
	require.Equal(t, diags, ScanString(out))
}

func TestCodes_Empty(t *testing.T) {
	require.Empty(t, Codes(nil))
}
