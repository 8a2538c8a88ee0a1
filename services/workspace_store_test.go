package services

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *WorkspaceStore {
	t.Helper()
	store, err := NewWorkspaceStore(filepath.Join(t.TempDir(), "ws"), "")
	if err != nil {
		t.Fatalf("NewWorkspaceStore: %v", err)
	}
	return store
}

func TestWorkspaceAllocateRelease(t *testing.T) {
	store := newTestStore(t)

	a, err := store.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	b, err := store.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if a.ID == b.ID || a.LocalPath == b.LocalPath {
		t.Fatalf("workspaces share an identity: %s", a.ID)
	}
	if a.HostPath != a.LocalPath {
		t.Errorf("HostPath = %q, want %q when no host root is set", a.HostPath, a.LocalPath)
	}
	if !store.Exists(a) {
		t.Fatal("allocated workspace does not exist")
	}

	if err := store.WriteFile(a, "nested/dir/file.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := store.Release(a); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if store.Exists(a) {
		t.Error("released workspace still exists")
	}
	if err := store.Release(a); err != nil {
		t.Errorf("second Release: %v", err)
	}
	if !store.Exists(b) {
		t.Error("releasing one workspace removed another")
	}
}

func TestWorkspaceHostRoot(t *testing.T) {
	store, err := NewWorkspaceStore(t.TempDir(), "/srv/sandbox")
	if err != nil {
		t.Fatalf("NewWorkspaceStore: %v", err)
	}
	ws, err := store.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if want := "/srv/sandbox/" + ws.ID; ws.HostPath != want {
		t.Errorf("HostPath = %q, want %q", ws.HostPath, want)
	}
}

func TestWorkspaceReleaseRefusesForeignPaths(t *testing.T) {
	store := newTestStore(t)
	foreign := t.TempDir()

	ws, _ := store.Allocate()
	ws.LocalPath = foreign
	if err := store.Release(ws); err == nil {
		t.Fatal("Release accepted a path outside the root")
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Errorf("foreign directory was touched: %v", err)
	}
}

func TestWorkspaceResolveRejectsEscapes(t *testing.T) {
	store := newTestStore(t)
	ws, _ := store.Allocate()
	outside := t.TempDir()

	if err := os.Symlink(outside, filepath.Join(ws.LocalPath, "link")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	if _, err := store.Resolve(ws, "link/secret"); !errors.Is(err, ErrPathOutsideWorkspace) {
		t.Errorf("symlink escape err = %v, want ErrPathOutsideWorkspace", err)
	}
	if err := store.WriteFile(ws, "link/new.txt", []byte("x")); !errors.Is(err, ErrPathOutsideWorkspace) {
		t.Errorf("write through symlink err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(outside, "new.txt")); err == nil {
		t.Error("file written outside the workspace")
	}

	// Dot-dot segments are clamped to the workspace root.
	full, err := store.Resolve(ws, "../../etc/passwd")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if full != filepath.Join(ws.LocalPath, "etc/passwd") {
		t.Errorf("Resolve = %q", full)
	}
}

func TestWorkspaceFiles(t *testing.T) {
	store := newTestStore(t)
	ws, _ := store.Allocate()

	if err := store.WriteFile(ws, "a.txt", []byte("hello")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := store.WriteFile(ws, "sub/b.txt", []byte("b")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := store.WriteFile(ws, "", []byte("x")); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty path err = %v", err)
	}

	data, err := store.ReadFile(ws, "a.txt")
	if err != nil || string(data) != "hello" {
		t.Fatalf("ReadFile = %q, %v", data, err)
	}
	if _, err := store.ReadFile(ws, "missing.txt"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("missing file err = %v", err)
	}

	files, err := store.ListFiles(ws, "")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	got := map[string]bool{}
	for _, f := range files {
		got[f.Path] = f.IsDir
	}
	if len(got) != 2 || got["a.txt"] || !got["sub"] {
		t.Errorf("ListFiles = %+v", files)
	}

	files, err = store.ListFiles(ws, "sub")
	if err != nil || len(files) != 1 || files[0].Path != "sub/b.txt" || files[0].Size != 1 {
		t.Errorf("ListFiles(sub) = %+v, %v", files, err)
	}
	if _, err := store.ListFiles(ws, "nope"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("missing dir err = %v", err)
	}
}

func TestWorkspaceSeed(t *testing.T) {
	store := newTestStore(t)
	src, _ := store.Allocate()
	dst, _ := store.Allocate()

	store.WriteFile(src, "main.py", []byte("print(1)"))
	store.WriteFile(src, "pkg/util.py", []byte("x = 1"))
	os.Symlink("/etc/passwd", filepath.Join(src.LocalPath, "passwd"))

	if err := store.Seed(dst, src); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	for rel, want := range map[string]string{"main.py": "print(1)", "pkg/util.py": "x = 1"} {
		data, err := store.ReadFile(dst, rel)
		if err != nil || string(data) != want {
			t.Errorf("%s = %q, %v", rel, data, err)
		}
	}
	if _, err := os.Lstat(filepath.Join(dst.LocalPath, "passwd")); err == nil {
		t.Error("symlink was copied")
	}

	// The copy is independent of the source.
	store.WriteFile(dst, "main.py", []byte("changed"))
	if data, _ := store.ReadFile(src, "main.py"); string(data) != "print(1)" {
		t.Errorf("source modified through copy: %q", data)
	}
}

func TestWorkspaceStale(t *testing.T) {
	store := newTestStore(t)
	old, _ := store.Allocate()
	kept, _ := store.Allocate()
	fresh, _ := store.Allocate()

	past := time.Now().Add(-time.Hour)
	os.Chtimes(old.LocalPath, past, past)
	os.Chtimes(kept.LocalPath, past, past)

	stale, err := store.Stale(time.Now().Add(-time.Minute), map[string]bool{kept.ID: true})
	if err != nil {
		t.Fatalf("Stale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != old.ID {
		t.Errorf("Stale = %+v, want only %s", stale, old.ID)
	}
	_ = fresh
}
