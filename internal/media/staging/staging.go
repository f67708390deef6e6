// Package staging spools files uploaded through the internal API onto local
// disk until they have been sent to the provider. Each send gets its own batch
// directory under <root>/<batch_id>/.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrTooLarge is returned by Put when the payload exceeds maxBytes.
var ErrTooLarge = errors.New("staged file too large")

// Dir is a staging area rooted at a host directory.
type Dir struct {
	root string
}

// New creates a staging area. An empty root uses <tmp>/wadesk-media.
func New(root string) (*Dir, error) {
	if strings.TrimSpace(root) == "" {
		root = filepath.Join(os.TempDir(), "wadesk-media")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve staging root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}
	return &Dir{root: abs}, nil
}

// NewBatch returns a fresh batch id.
func (d *Dir) NewBatch() string {
	return uuid.NewString()
}

// Put writes reader to <root>/<batch>/<name> and returns the host path.
// Nothing is left behind when the write fails.
func (d *Dir) Put(_ context.Context, batch, name string, reader io.Reader, maxBytes int64) (string, error) {
	dest, err := d.hostPath(batch, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return "", fmt.Errorf("create batch dir: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	src := reader
	if maxBytes > 0 {
		src = io.LimitReader(reader, maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("write file: %w", err)
	}
	if maxBytes > 0 && n > maxBytes {
		_ = os.Remove(dest)
		return "", fmt.Errorf("%w: %s", ErrTooLarge, name)
	}
	return dest, nil
}

// Release removes a batch and everything in it.
func (d *Dir) Release(batch string) error {
	dir, err := d.batchPath(batch)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("release batch: %w", err)
	}
	return nil
}

func (d *Dir) batchPath(batch string) (string, error) {
	batch = strings.TrimSpace(batch)
	if batch == "" || batch == "." || batch == ".." || strings.ContainsAny(batch, `/\`) {
		return "", fmt.Errorf("invalid batch id: %q", batch)
	}
	return filepath.Join(d.root, batch), nil
}

// hostPath converts (batch, name) into a path under root. Only the base of
// name is kept, so client supplied names cannot escape the batch directory.
func (d *Dir) hostPath(batch, name string) (string, error) {
	dir, err := d.batchPath(batch)
	if err != nil {
		return "", err
	}
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, `\`, "/")))
	if base == "/" || base == "." || base == ".." || strings.TrimSpace(base) == "" {
		base = "upload"
	}
	joined := filepath.Join(dir, base)
	if !strings.HasPrefix(joined, d.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes staging root: %s", name)
	}
	return joined, nil
}
