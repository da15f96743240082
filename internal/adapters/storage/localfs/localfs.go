package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"launchpad/internal/pkg/errors"
	"launchpad/internal/ports"
)

// LocalFS implements ports.ObjectStore on the local filesystem. Objects
// live under root; workers that share the filesystem (local Docker) fetch
// them through file:// locations.
type LocalFS struct {
	root string
}

func New(root string) *LocalFS {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &LocalFS{root: root}
}

func (l *LocalFS) Provider() string { return "localfs" }

// path maps an object key to a file under root, refusing keys that escape it.
func (l *LocalFS) path(objectKey string) (string, error) {
	if objectKey == "" {
		return "", errors.ValidationField("object_key", "object_key is required")
	}
	p := filepath.Join(l.root, filepath.FromSlash(objectKey))
	if p != l.root && !strings.HasPrefix(p, l.root+string(filepath.Separator)) {
		return "", errors.ValidationField("object_key", "object_key escapes the storage root")
	}
	return p, nil
}

func (l *LocalFS) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	dst, err := l.path(in.ObjectKey)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ports.PutObjectOutput{}, err
	}

	// Write beside the target and rename so a worker never reads a
	// half-written script.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, in.Reader)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("localfs write %s: %w", in.ObjectKey, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return ports.PutObjectOutput{}, err
	}

	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: n, Location: l.Location(in.ObjectKey)}, nil
}

func (l *LocalFS) StatObject(ctx context.Context, objectKey string) (ports.ObjectInfo, error) {
	p, err := l.path(objectKey)
	if err != nil {
		return ports.ObjectInfo{}, err
	}
	st, err := os.Stat(p)
	if os.IsNotExist(err) {
		return ports.ObjectInfo{}, errors.NotFound("object", objectKey)
	}
	if err != nil {
		return ports.ObjectInfo{}, err
	}
	return ports.ObjectInfo{ObjectKey: objectKey, Size: st.Size(), UpdatedAt: st.ModTime().UTC()}, nil
}

func (l *LocalFS) Location(objectKey string) string {
	return "file://" + filepath.ToSlash(filepath.Join(l.root, filepath.FromSlash(objectKey)))
}
