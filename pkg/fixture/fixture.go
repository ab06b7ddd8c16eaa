// Package fixture materializes template projects into isolated temporary
// workspaces.
package fixture

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/tools/txtar"
)

// ArchiveExt is the extension of single-file fixture archives.
const ArchiveExt = ".txtar"

var (
	// ErrFixtureNotFound is returned when neither a fixture directory nor a
	// fixture archive exists under the provisioner root.
	ErrFixtureNotFound = errors.New("fixture not found")

	// ErrWorkspaceInUse is returned when a workspace path is already owned
	// by another live workspace.
	ErrWorkspaceInUse = errors.New("workspace path already in use")

	// ErrInvalidName is returned for fixture names that are not local paths
	// under the provisioner root.
	ErrInvalidName = errors.New("invalid fixture name")
)

// live tracks workspace directories owned by this process.
var live = xsync.NewMap[string, *Workspace]()

// FSError reports a filesystem operation that failed while provisioning.
type FSError struct {
	Op   string
	Path string
	Err  error
}

func (e *FSError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FSError) Unwrap() error {
	return e.Err
}

// Provisioner copies named fixtures out of a read-only root.
type Provisioner struct {
	// Root is the directory holding one subdirectory (or archive) per fixture.
	Root string

	// TempRoot is where workspaces are created. Empty means os.TempDir().
	TempRoot string

	// Ignore lists doublestar patterns matched against fixture-relative
	// file names; matching files are not copied.
	Ignore []string

	// Keep leaves workspaces on disk when they are closed.
	Keep bool
}

// Provision creates a fresh workspace for the named fixture and copies the
// fixture's files into it. Only regular files directly inside the fixture
// directory are copied; subdirectories are not descended. A failure part way
// leaves whatever was already copied in place and returns the workspace along
// with the error so the caller can still inspect or close it.
func (p *Provisioner) Provision(name string) (*Workspace, error) {
	if !filepath.IsLocal(name) {
		return nil, &FSError{Op: "provision", Path: name, Err: ErrInvalidName}
	}
	for _, pattern := range p.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("ignore pattern %q: %w", pattern, doublestar.ErrBadPattern)
		}
	}

	src := filepath.Join(p.Root, name)
	info, err := os.Stat(src)
	switch {
	case err == nil && info.IsDir():
		return p.provision(name, func(ws *Workspace) error { return p.copyDir(src, ws) })
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, &FSError{Op: "stat", Path: src, Err: err}
	}

	archive := src + ArchiveExt
	if _, err := os.Stat(archive); err == nil {
		return p.provision(name, func(ws *Workspace) error { return p.extract(archive, ws) })
	}
	return nil, &FSError{Op: "provision", Path: src, Err: ErrFixtureNotFound}
}

func (p *Provisioner) provision(name string, fill func(*Workspace) error) (*Workspace, error) {
	ws, err := p.newWorkspace(name)
	if err != nil {
		return nil, err
	}
	if err := fill(ws); err != nil {
		return ws, err
	}
	slog.Debug("provisioned fixture", "fixture", name, "dir", ws.Dir)
	return ws, nil
}

func (p *Provisioner) newWorkspace(name string) (*Workspace, error) {
	tempRoot := p.TempRoot
	if tempRoot == "" {
		tempRoot = os.TempDir()
	}
	root := filepath.Join(tempRoot, name+"-"+uuid.NewString())
	ws := &Workspace{
		Name: name,
		Root: root,
		Dir:  filepath.Join(root, name),
		Keep: p.Keep,
	}
	if _, loaded := live.LoadOrStore(root, ws); loaded {
		return nil, &FSError{Op: "create", Path: root, Err: ErrWorkspaceInUse}
	}
	if err := os.MkdirAll(ws.Dir, 0o755); err != nil {
		live.Delete(root)
		return nil, &FSError{Op: "mkdir", Path: ws.Dir, Err: err}
	}
	return ws, nil
}

func (p *Provisioner) ignored(name string) (bool, error) {
	for _, pattern := range p.Ignore {
		ok, err := doublestar.Match(pattern, name)
		if err != nil {
			return false, fmt.Errorf("ignore pattern %q: %w", pattern, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (p *Provisioner) copyDir(src string, ws *Workspace) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return &FSError{Op: "readdir", Path: src, Err: err}
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		skip, err := p.ignored(entry.Name())
		if err != nil {
			return err
		}
		if skip {
			continue
		}
		if err := copyFile(filepath.Join(src, entry.Name()), filepath.Join(ws.Dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provisioner) extract(archive string, ws *Workspace) error {
	ar, err := txtar.ParseFile(archive)
	if err != nil {
		return &FSError{Op: "read", Path: archive, Err: err}
	}
	for _, f := range ar.Files {
		name := filepath.ToSlash(filepath.Clean(filepath.FromSlash(f.Name)))
		if name == ".." || strings.HasPrefix(name, "../") || filepath.IsAbs(f.Name) {
			return &FSError{Op: "extract", Path: archive, Err: fmt.Errorf("entry %q escapes the workspace", f.Name)}
		}
		skip, err := p.ignored(name)
		if err != nil {
			return err
		}
		if skip {
			continue
		}
		dst := filepath.Join(ws.Dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return &FSError{Op: "mkdir", Path: filepath.Dir(dst), Err: err}
		}
		if err := os.WriteFile(dst, f.Data, 0o644); err != nil {
			return &FSError{Op: "write", Path: dst, Err: err}
		}
	}
	return nil
}

// Workspace is an isolated copy of a fixture. It is owned by exactly one
// run and must not be shared.
type Workspace struct {
	// Name is the fixture name.
	Name string

	// Root is the unique per-run directory.
	Root string

	// Dir holds the fixture files, Root/Name.
	Dir string

	// Keep leaves the directory on disk when the workspace is closed.
	Keep bool

	closed bool
}

// Path joins elem onto the workspace directory.
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.Dir}, elem...)...)
}

// CopyFile copies src into the workspace root, next to the fixture
// directory, keeping its base name.
func (w *Workspace) CopyFile(src string) (string, error) {
	dst := filepath.Join(w.Root, filepath.Base(src))
	if err := copyFile(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// CreateDirectory creates a directory under the workspace directory.
func (w *Workspace) CreateDirectory(name string) (string, error) {
	dir := w.Path(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &FSError{Op: "mkdir", Path: dir, Err: err}
	}
	return dir, nil
}

// Close releases the workspace, removing it from disk unless Keep is set.
// Calling Close more than once is a no-op.
func (w *Workspace) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	live.Delete(w.Root)

	if w.Keep {
		slog.Info("keeping workspace", "fixture", w.Name, "dir", w.Root)
		return nil
	}
	if err := os.RemoveAll(w.Root); err != nil {
		return &FSError{Op: "remove", Path: w.Root, Err: err}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &FSError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return &FSError{Op: "stat", Path: src, Err: err}
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return &FSError{Op: "create", Path: dst, Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return &FSError{Op: "copy", Path: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		return &FSError{Op: "close", Path: dst, Err: err}
	}
	return nil
}
