package gateway

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/trapdoor-sh/trapdoor/internal/security"
)

// EntryType classifies a directory entry.
type EntryType string

const (
	EntryFile    EntryType = "file"
	EntryDir     EntryType = "dir"
	EntrySymlink EntryType = "symlink"
	EntryOther   EntryType = "other"
)

// Entry is one row of a directory listing.
type Entry struct {
	Name     string    `json:"name"`
	Type     EntryType `json:"type"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// WriteMode selects between truncating and appending writes.
type WriteMode string

const (
	ModeWrite  WriteMode = "write"
	ModeAppend WriteMode = "append"
)

// FSGateway implements the filesystem operations. Every path argument goes
// through the resolver first; a resolver rejection short-circuits before
// any OS call.
type FSGateway struct {
	resolver     *security.PathResolver
	maxReadBytes int64
	logger       *slog.Logger
}

// NewFSGateway creates a filesystem gateway.
func NewFSGateway(resolver *security.PathResolver, maxReadBytes int64, logger *slog.Logger) *FSGateway {
	return &FSGateway{
		resolver:     resolver,
		maxReadBytes: maxReadBytes,
		logger:       logger.With("component", "fs"),
	}
}

// List returns the entries of a directory, sorted by name.
func (g *FSGateway) List(path string) ([]Entry, error) {
	target, err := g.resolver.Resolve(path, security.CategoryRead)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, classifyOSError(err, path)
	}
	if !info.IsDir() {
		return nil, E(KindNotADirectory, "not a directory: %s", path)
	}

	dirEntries, err := os.ReadDir(target)
	if err != nil {
		return nil, classifyOSError(err, path)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		entry := Entry{Name: de.Name(), Type: entryType(de.Type())}
		if info, err := de.Info(); err == nil {
			entry.Size = info.Size()
			entry.Modified = info.ModTime()
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return entries, nil
}

// Read returns the full content of a file, bounded by the configured size
// ceiling.
func (g *FSGateway) Read(path string) ([]byte, error) {
	target, err := g.resolver.Resolve(path, security.CategoryRead)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, classifyOSError(err, path)
	}
	if info.IsDir() {
		return nil, E(KindIsADirectory, "is a directory: %s", path)
	}
	if info.Size() > g.maxReadBytes {
		return nil, E(KindTooLarge, "file %s is %d bytes, ceiling is %d", path, info.Size(), g.maxReadBytes)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return nil, classifyOSError(err, path)
	}
	return data, nil
}

// Write creates or replaces a file. The write is atomic from the caller's
// perspective: content lands in a temp file in the target directory and is
// renamed into place, so a failure never leaves a partial file at the
// target path. Parent directories are not created.
func (g *FSGateway) Write(path string, content []byte, mode WriteMode) (int, error) {
	target, err := g.resolver.Resolve(path, security.CategoryWrite)
	if err != nil {
		return 0, err
	}

	dir := filepath.Dir(target)
	if info, err := os.Stat(dir); err != nil {
		return 0, classifyOSError(err, path)
	} else if !info.IsDir() {
		return 0, E(KindNotADirectory, "parent is not a directory: %s", path)
	}

	// Overwriting must not loosen an existing file's permissions.
	perm := os.FileMode(0644)
	if info, err := os.Stat(target); err == nil {
		if info.IsDir() {
			return 0, E(KindIsADirectory, "is a directory: %s", path)
		}
		perm = info.Mode().Perm()
	}

	data := content
	if mode == ModeAppend {
		existing, err := os.ReadFile(target)
		if err != nil && !os.IsNotExist(err) {
			return 0, classifyOSError(err, path)
		}
		data = append(existing, content...)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return 0, classifyOSError(err, path)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, classifyOSError(err, path)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, classifyOSError(err, path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, classifyOSError(err, path)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return 0, classifyOSError(err, path)
	}

	g.logger.Debug("wrote file", "path", target, "bytes", len(content), "mode", mode)
	return len(content), nil
}

// Mkdir creates a single directory level. The parent must exist.
func (g *FSGateway) Mkdir(path string) (string, error) {
	target, err := g.resolver.Resolve(path, security.CategoryWrite)
	if err != nil {
		return "", err
	}

	if err := os.Mkdir(target, 0755); err != nil {
		return "", classifyOSError(err, path)
	}

	g.logger.Debug("created directory", "path", target)
	return target, nil
}

// Remove deletes a file or recursively deletes a directory. This is the
// single most destructive operation in the gateway; the delete category
// confines it to the full level.
func (g *FSGateway) Remove(path string) (string, error) {
	target, err := g.resolver.Resolve(path, security.CategoryDelete)
	if err != nil {
		return "", err
	}

	// RemoveAll succeeds on a missing path; check first so a repeated
	// remove reports not_found.
	if _, err := os.Lstat(target); err != nil {
		return "", classifyOSError(err, path)
	}

	if err := os.RemoveAll(target); err != nil {
		return "", classifyOSError(err, path)
	}

	g.logger.Info("removed path", "path", target)
	return target, nil
}

func entryType(mode fs.FileMode) EntryType {
	switch {
	case mode.IsRegular():
		return EntryFile
	case mode.IsDir():
		return EntryDir
	case mode&fs.ModeSymlink != 0:
		return EntrySymlink
	}
	return EntryOther
}
