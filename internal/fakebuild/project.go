package fakebuild

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const lockFile = "project.lock.json"

// Project is the subset of project.json the stand-in tool understands.
type Project struct {
	Name               string                     `json:"name,omitempty"`
	Frameworks         map[string]json.RawMessage `json:"frameworks"`
	Dependencies       map[string]json.RawMessage `json:"dependencies,omitempty"`
	CompilationOptions struct {
		EmitEntryPoint bool `json:"emitEntryPoint,omitempty"`
		XMLDoc         bool `json:"xmlDoc,omitempty"`
	} `json:"compilationOptions"`
	Resource        []string `json:"resource,omitempty"`
	ResourceExclude []string `json:"resourceExclude,omitempty"`
	Content         []string `json:"content,omitempty"`

	dir string
}

func loadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.dir = filepath.Dir(path)
	if p.Name == "" {
		p.Name = filepath.Base(p.dir)
	}
	if len(p.Frameworks) == 0 {
		return nil, fmt.Errorf("%s: no frameworks declared", path)
	}
	return &p, nil
}

// defaultFramework is the first declared framework in sorted order.
func (p *Project) defaultFramework() string {
	fws := make([]string, 0, len(p.Frameworks))
	for fw := range p.Frameworks {
		fws = append(fws, fw)
	}
	sort.Strings(fws)
	return fws[0]
}

func (p *Project) hasAnalyzers() bool {
	for name := range p.Dependencies {
		if strings.HasSuffix(name, ".Analyzers") {
			return true
		}
	}
	return false
}

// resources returns embedded resources grouped by culture; the invariant
// culture is keyed "". Names are slash-separated and project-relative.
func (p *Project) resources() (map[string][]string, error) {
	byCulture := make(map[string][]string)
	err := fs.WalkDir(os.DirFS(p.dir), ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		in, err := matchAny(p.Resource, path)
		if err != nil || !in {
			return err
		}
		out, err := matchAny(p.ResourceExclude, path)
		if err != nil || out {
			return err
		}
		culture := cultureOf(path)
		byCulture[culture] = append(byCulture[culture], path)
		return nil
	})
	return byCulture, err
}

func matchAny(patterns []string, name string) (bool, error) {
	for _, pattern := range patterns {
		ok, err := doublestar.Match(pattern, name)
		if err != nil {
			return false, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

var culturePattern = regexp.MustCompile(`\.([a-z]{2}(?:-[A-Z]{2})?)\.[^.]+$`)

// cultureOf extracts the culture of names like Strings.fr.resx.
func cultureOf(name string) string {
	if m := culturePattern.FindStringSubmatch(filepath.Base(name)); m != nil {
		return m[1]
	}
	return ""
}

// resourceName is the manifest name of an embedded resource.
func (p *Project) resourceName(path string) string {
	return p.Name + "." + strings.ReplaceAll(path, "/", ".")
}

// Source holds what the tool extracts from one C# file.
type Source struct {
	File    string
	Classes []string
	Members []Member
	Issues  []Issue
}

// Member is a documented declaration.
type Member struct {
	ID      string
	Summary string
}

// Issue is an analyzer finding.
type Issue struct {
	Line, Column int
	Code         string
	Message      string
}

var (
	namespacePattern = regexp.MustCompile(`^\s*namespace\s+([\w.]+)`)
	classPattern     = regexp.MustCompile(`\bclass\s+(\w+)(?:\s*:\s*([\w.]+))?`)
	methodPattern    = regexp.MustCompile(`(\w+)\s*\(`)
	propertyPattern  = regexp.MustCompile(`(\w+)\s*\{\s*get`)
	summaryPattern   = regexp.MustCompile(`(?s)<summary>(.*?)</summary>`)
)

// scanSources parses every *.cs file directly in the project directory.
func (p *Project) scanSources() ([]Source, error) {
	files, err := filepath.Glob(filepath.Join(p.dir, "*.cs"))
	if err != nil {
		return nil, err
	}
	slices.Sort(files)

	sources := make([]Source, 0, len(files))
	for _, file := range files {
		src, err := scanSource(file)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func scanSource(path string) (Source, error) {
	src := Source{File: filepath.Base(path)}
	f, err := os.Open(path)
	if err != nil {
		return src, err
	}
	defer f.Close()

	var (
		namespace string
		class     string
		doc       []string
		lastAttrs string
		lineNo    int
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "" || trimmed == "{" || trimmed == "}":
			continue
		case strings.HasPrefix(trimmed, "///"):
			doc = append(doc, strings.TrimSpace(strings.TrimPrefix(trimmed, "///")))
			continue
		case strings.HasPrefix(trimmed, "//"):
			continue
		case strings.HasPrefix(trimmed, "["):
			lastAttrs += trimmed
			continue
		}

		if m := namespacePattern.FindStringSubmatch(line); m != nil {
			namespace = m[1]
			doc = nil
			continue
		}

		var id string
		if m := classPattern.FindStringSubmatch(line); m != nil {
			class = qualify(namespace, m[1])
			src.Classes = append(src.Classes, class)
			id = "T:" + class
			if isAttributeBase(m[2]) && !strings.Contains(lastAttrs, "AttributeUsage") {
				src.Issues = append(src.Issues, Issue{
					Line:    lineNo,
					Column:  strings.Index(line, m[1]) + 1,
					Code:    "CA1018",
					Message: fmt.Sprintf("Specify AttributeUsage on %s", m[1]),
				})
			}
		} else if m := propertyPattern.FindStringSubmatch(line); m != nil {
			id = "P:" + qualify(class, m[1])
		} else if m := methodPattern.FindStringSubmatch(line); m != nil {
			id = "M:" + qualify(class, m[1])
		}

		if id != "" && len(doc) > 0 {
			if m := summaryPattern.FindStringSubmatch(strings.Join(doc, " ")); m != nil {
				src.Members = append(src.Members, Member{ID: id, Summary: strings.TrimSpace(m[1])})
			}
		}
		doc = nil
		lastAttrs = ""
	}
	return src, scanner.Err()
}

func isAttributeBase(base string) bool {
	return base == "Attribute" || base == "System.Attribute"
}

func qualify(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
