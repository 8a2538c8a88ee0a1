package services

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"sandbox-runner-server/models"
)

// WorkspaceStore allocates and destroys the per-execution directories that
// are bind-mounted into containers.
type WorkspaceStore struct {
	root     string
	hostRoot string
}

// NewWorkspaceStore creates the root directory if needed. hostRoot is the
// same directory as seen by the container engine; empty means root.
func NewWorkspaceStore(root, hostRoot string) (*WorkspaceStore, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkspaceAllocation, err)
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkspaceAllocation, err)
	}
	if hostRoot == "" {
		hostRoot = absRoot
	}
	return &WorkspaceStore{root: absRoot, hostRoot: hostRoot}, nil
}

// Root returns the local directory that holds every workspace
func (s *WorkspaceStore) Root() string { return s.root }

// Allocate creates a new, empty, uniquely named workspace.
func (s *WorkspaceStore) Allocate() (*models.Workspace, error) {
	id := uuid.New().String()
	localPath := filepath.Join(s.root, id)
	// Mkdir rather than MkdirAll: an existing directory must never be reused.
	if err := os.Mkdir(localPath, 0777); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkspaceAllocation, err)
	}
	// The container user is not necessarily the service user.
	if err := os.Chmod(localPath, 0777); err != nil {
		os.RemoveAll(localPath)
		return nil, fmt.Errorf("%w: %v", ErrWorkspaceAllocation, err)
	}
	return &models.Workspace{
		ID:        id,
		HostPath:  filepath.Join(s.hostRoot, id),
		LocalPath: localPath,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Release recursively deletes the workspace. Releasing twice is not an error.
func (s *WorkspaceStore) Release(ws *models.Workspace) error {
	if ws == nil {
		return nil
	}
	if !s.owns(ws.LocalPath) {
		return fmt.Errorf("workspace %s is outside %s", ws.LocalPath, s.root)
	}
	return os.RemoveAll(ws.LocalPath)
}

// Exists reports whether the workspace directory is still on disk
func (s *WorkspaceStore) Exists(ws *models.Workspace) bool {
	_, err := os.Stat(ws.LocalPath)
	return err == nil
}

// Resolve maps a caller-supplied relative path into the workspace, rejecting
// anything that escapes it.
func (s *WorkspaceStore) Resolve(ws *models.Workspace, rel string) (string, error) {
	rel = strings.TrimPrefix(filepath.Clean("/"+rel), "/")
	full := filepath.Join(ws.LocalPath, rel)
	if full != ws.LocalPath && !strings.HasPrefix(full, ws.LocalPath+string(os.PathSeparator)) {
		return "", ErrPathOutsideWorkspace
	}
	// A symlink may point anywhere; check the deepest existing ancestor.
	base, err := filepath.EvalSymlinks(ws.LocalPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, rel)
	}
	for probe := full; ; probe = filepath.Dir(probe) {
		resolved, err := filepath.EvalSymlinks(probe)
		if err != nil {
			if probe == ws.LocalPath {
				break
			}
			continue
		}
		if resolved != base && !strings.HasPrefix(resolved, base+string(os.PathSeparator)) {
			return "", ErrPathOutsideWorkspace
		}
		break
	}
	return full, nil
}

// WriteFile writes content at rel inside the workspace, creating parents.
func (s *WorkspaceStore) WriteFile(ws *models.Workspace, rel string, content []byte) error {
	if strings.TrimSpace(rel) == "" {
		return fmt.Errorf("%w: file path is required", ErrInvalidRequest)
	}
	full, err := s.Resolve(ws, rel)
	if err != nil {
		return err
	}
	if full == ws.LocalPath {
		return fmt.Errorf("%w: file path is required", ErrInvalidRequest)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0777); err != nil {
		return err
	}
	return os.WriteFile(full, content, 0666)
}

// ReadFile returns the content at rel inside the workspace.
func (s *WorkspaceStore) ReadFile(ws *models.Workspace, rel string) ([]byte, error) {
	full, err := s.Resolve(ws, rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, rel)
	}
	return data, err
}

// ListFiles lists the direct children of dir inside the workspace.
func (s *WorkspaceStore) ListFiles(ws *models.Workspace, dir string) ([]models.FileEntry, error) {
	full, err := s.Resolve(ws, dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, dir)
	}
	if err != nil {
		return nil, err
	}

	files := make([]models.FileEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		rel, _ := filepath.Rel(ws.LocalPath, filepath.Join(full, e.Name()))
		files = append(files, models.FileEntry{
			Name:    e.Name(),
			Path:    filepath.ToSlash(rel),
			IsDir:   e.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return files, nil
}

// Seed copies the regular files and directories of src into dst. Symlinks
// and special files are skipped.
func (s *WorkspaceStore) Seed(dst, src *models.Workspace) error {
	return filepath.WalkDir(src.LocalPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src.LocalPath, path)
		if err != nil || rel == "." {
			return err
		}
		target := filepath.Join(dst.LocalPath, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0777)
		case d.Type().IsRegular():
			return copyFile(target, path)
		}
		return nil
	})
}

// Stale lists directories under the root older than cutoff whose names are
// not in keep.
func (s *WorkspaceStore) Stale(cutoff time.Time, keep map[string]bool) ([]*models.Workspace, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var stale []*models.Workspace
	for _, e := range entries {
		if !e.IsDir() || keep[e.Name()] {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		stale = append(stale, &models.Workspace{
			ID:        e.Name(),
			HostPath:  filepath.Join(s.hostRoot, e.Name()),
			LocalPath: filepath.Join(s.root, e.Name()),
			CreatedAt: info.ModTime(),
		})
	}
	return stale, nil
}

func (s *WorkspaceStore) owns(path string) bool {
	return strings.HasPrefix(path, s.root+string(os.PathSeparator))
}

func copyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
