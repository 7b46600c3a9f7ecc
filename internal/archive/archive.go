// Package archive implements the content-addressable media store.
//
// An archive keeps every object exactly once, under
// store/<hash[0:2]>/<hash>, and deploys objects to relative paths inside a
// deployment root by copy, symlink or hardlink. A bare archive has no
// deployment root and only stores objects.
package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"mediarchive/internal/hash"
)

const (
	// ArchiveDirName is the hidden directory holding a non-bare archive.
	ArchiveDirName = ".media-archive"

	storeDirName    = "store"
	databaseName    = "media-archive.sqlite"
	fanoutDirPerm   = 0o755
	copyBufferBytes = 128 * 1024
)

// Errors callers branch on. All are returned wrapped with context;
// match with errors.Is.
var (
	ErrExists       = errors.New("object already exists in the archive")
	ErrNotFound     = errors.New("object not found in the archive")
	ErrIsDirectory  = errors.New("cannot store a directory")
	ErrIsSymlink    = errors.New("cannot move a symlink into the archive")
	ErrBareArchive  = errors.New("cannot deploy from a bare archive")
	ErrInvalidPath  = errors.New("target path is empty or not relative")
	ErrTargetExists = errors.New("deployment target already exists")
	ErrNotRegular   = errors.New("stored object exists but is not a regular file")
	ErrUnsupported  = errors.New("deployment method not supported by the operating system or file system")
)

// DeployMethod selects how an object is materialized at its target.
type DeployMethod int

const (
	// DeployCopy copies the object to the destination.
	DeployCopy DeployMethod = iota
	// DeploySymlink symlinks the destination to the stored object.
	DeploySymlink
	// DeployHardlink hardlinks the destination to the stored object.
	DeployHardlink
)

// ParseDeployMethod maps the CLI/API spelling of a method.
func ParseDeployMethod(s string) (DeployMethod, error) {
	switch strings.ToLower(s) {
	case "copy":
		return DeployCopy, nil
	case "symlink":
		return DeploySymlink, nil
	case "hardlink":
		return DeployHardlink, nil
	default:
		return DeployCopy, fmt.Errorf("unknown deploy method %q (want copy, symlink or hardlink)", s)
	}
}

func (m DeployMethod) String() string {
	switch m {
	case DeployCopy:
		return "copy"
	case DeploySymlink:
		return "symlink"
	case DeployHardlink:
		return "hardlink"
	default:
		return fmt.Sprintf("DeployMethod(%d)", int(m))
	}
}

// Archive is an open media archive on disk.
type Archive struct {
	archivePath string
	deployPath  string // empty for bare archives
}

// Open opens a directory as a media archive, creating it if needed.
//
// By default the archive directory is created inside path, and path is the
// root that objects are deployed into. With bare set, path itself is the
// archive directory and nothing can be deployed.
func Open(path string, bare bool) (*Archive, error) {
	archivePath := path
	deployPath := ""
	if !bare {
		archivePath = filepath.Join(path, ArchiveDirName)
		deployPath = path
	}
	if err := os.MkdirAll(filepath.Join(archivePath, storeDirName), fanoutDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Archive{archivePath: archivePath, deployPath: deployPath}, nil
}

// Detect opens an existing archive at path, deciding whether it is bare by
// layout: a path containing the hidden archive directory is a deployment
// root, a path containing a store directory is a bare archive.
func Detect(path string) (*Archive, error) {
	if fi, err := os.Stat(filepath.Join(path, ArchiveDirName)); err == nil && fi.IsDir() {
		return Open(path, false)
	}
	if fi, err := os.Stat(filepath.Join(path, storeDirName)); err == nil && fi.IsDir() {
		return Open(path, true)
	}
	return nil, fmt.Errorf("no media archive found at %s", path)
}

// Path returns the archive directory.
func (a *Archive) Path() string { return a.archivePath }

// DeployPath returns the deployment root, or "" for a bare archive.
func (a *Archive) DeployPath() string { return a.deployPath }

// Bare reports whether the archive has no deployment root.
func (a *Archive) Bare() bool { return a.deployPath == "" }

// DatabasePath is where the metadata database lives.
func (a *Archive) DatabasePath() string {
	return filepath.Join(a.archivePath, databaseName)
}

// StoredFilePath returns the path an object with the given hash is stored
// at. The object does not need to exist.
func (a *Archive) StoredFilePath(h hash.Hash) string {
	return filepath.Join(a.archivePath, storeDirName, h.Prefix(), h.String())
}

// Contains reports whether an object with the given hash is stored.
func (a *Archive) Contains(h hash.Hash) bool {
	fi, err := os.Lstat(a.StoredFilePath(h))
	return err == nil && fi.Mode().IsRegular()
}

// StoreFile stores the file at path and returns its content hash.
//
// Directories and symlinks to directories are refused. With move set the
// file is renamed into the store instead of copied; moving a symlink is
// refused because the rename would capture the link, not its target.
func (a *Archive) StoreFile(path string, move bool) (hash.Hash, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return hash.Hash{}, fmt.Errorf("failed to get file metadata: %w", err)
	}
	if fi.IsDir() {
		return hash.Hash{}, fmt.Errorf("%w: %s", ErrIsDirectory, path)
	}
	isSymlink := fi.Mode()&os.ModeSymlink != 0
	if isSymlink {
		if move {
			return hash.Hash{}, fmt.Errorf("%w: %s", ErrIsSymlink, path)
		}
		target, err := os.Stat(path)
		if err != nil {
			return hash.Hash{}, fmt.Errorf("failed to get file metadata: %w", err)
		}
		if target.IsDir() {
			return hash.Hash{}, fmt.Errorf("%w: %s", ErrIsDirectory, path)
		}
	}

	h, err := hash.SumFile(path)
	if err != nil {
		return hash.Hash{}, err
	}

	stored := a.StoredFilePath(h)
	if _, err := os.Lstat(stored); err == nil {
		return h, fmt.Errorf("%w: %s", ErrExists, h)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return hash.Hash{}, fmt.Errorf("failed to get file metadata: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(stored), fanoutDirPerm); err != nil {
		return hash.Hash{}, fmt.Errorf("failed to create store directory: %w", err)
	}

	if move {
		if err := os.Rename(path, stored); err != nil {
			return hash.Hash{}, fmt.Errorf("failed to move file into store: %w", err)
		}
	} else if err := copyFile(path, stored); err != nil {
		return hash.Hash{}, fmt.Errorf("failed to copy file into store: %w", err)
	}
	return h, nil
}

// DeployFile materializes the stored object at a relative path inside the
// deployment root. The target must not already exist.
func (a *Archive) DeployFile(h hash.Hash, target string, method DeployMethod) error {
	if err := validateTargetPath(target); err != nil {
		return err
	}
	if a.deployPath == "" {
		return ErrBareArchive
	}

	dst := filepath.Join(a.deployPath, target)
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%w: %s", ErrTargetExists, dst)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to get file metadata of %s: %w", dst, err)
	}

	src := a.StoredFilePath(h)
	fi, err := os.Lstat(src)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNotFound, h)
	case err != nil:
		return fmt.Errorf("failed to get file metadata of %s: %w", src, err)
	case !fi.Mode().IsRegular():
		return fmt.Errorf("%w: %s", ErrNotRegular, src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), fanoutDirPerm); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	switch method {
	case DeployCopy:
		err = copyFile(src, dst)
	case DeploySymlink:
		err = os.Symlink(src, dst)
	case DeployHardlink:
		err = os.Link(src, dst)
	default:
		return fmt.Errorf("unknown deploy method %v", method)
	}
	if err != nil {
		if errors.Is(err, errors.ErrUnsupported) {
			return ErrUnsupported
		}
		return fmt.Errorf("failed to deploy %s to %s: %w", src, dst, err)
	}
	return nil
}

// RemoveFile deletes a stored object. The fan-out directory is removed too
// once it is empty.
func (a *Archive) RemoveFile(h hash.Hash) error {
	stored := a.StoredFilePath(h)
	if err := os.Remove(stored); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, h)
		}
		return fmt.Errorf("failed to remove stored object: %w", err)
	}
	// Best effort: drops the subdir when this was its last object.
	_ = os.Remove(filepath.Dir(stored))
	return nil
}

// List walks the store and returns the hashes of all stored objects.
// Entries whose names are not valid hashes are skipped.
func (a *Archive) List() ([]hash.Hash, error) {
	storeDir := filepath.Join(a.archivePath, storeDirName)
	var hashes []hash.Hash
	err := filepath.WalkDir(storeDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == storeDir && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		h, err := hash.Parse(d.Name())
		if err != nil {
			return nil
		}
		hashes = append(hashes, h)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk store: %w", err)
	}
	return hashes, nil
}

// validateTargetPath enforces that a deployment target is a non-empty
// relative path that stays inside the deployment root. Any ".." component
// is refused, even ones that do not escape.
func validateTargetPath(target string) error {
	if target == "" || filepath.IsAbs(target) || filepath.VolumeName(target) != "" {
		return fmt.Errorf("%w: %q", ErrInvalidPath, target)
	}
	nonCurrent := false
	for _, c := range strings.Split(filepath.ToSlash(target), "/") {
		switch c {
		case "..":
			return fmt.Errorf("%w: %q", ErrInvalidPath, target)
		case "", ".":
		default:
			nonCurrent = true
		}
	}
	if !nonCurrent {
		return fmt.Errorf("%w: %q", ErrInvalidPath, target)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	// O_EXCL so a concurrent deploy/store of the same path loses cleanly.
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.CopyBuffer(out, in, make([]byte, copyBufferBytes)); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}
