package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalProvider fetches a pre-staged build archive out of a local
// directory tree. Grounded on the teacher's path-traversal-safe
// containedPath join; used for on-box development and in tests where no
// real object store is available.
type LocalProvider struct {
	BasePath string
}

// NewLocalProvider returns a LocalProvider rooted at basePath.
func NewLocalProvider(basePath string) *LocalProvider {
	return &LocalProvider{BasePath: filepath.Clean(basePath)}
}

// FetchBuild copies <BasePath>/<taskID>.zip into dir.
func (p *LocalProvider) FetchBuild(ctx context.Context, taskID, dir string) (string, error) {
	if p.BasePath == "" {
		return "", fmt.Errorf("artifact: local provider has no base path configured")
	}

	srcPath, err := containedPath(p.BasePath, taskID+".zip")
	if err != nil {
		return "", err
	}

	destPath := filepath.Join(dir, taskID+".zip")
	if err := copyFile(ctx, srcPath, destPath); err != nil {
		return "", fmt.Errorf("artifact: fetch build %s: %w", taskID, err)
	}
	return destPath, nil
}

// containedPath ensures that the resolved path stays within basePath.
func containedPath(basePath, untrustedPath string) (string, error) {
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return "", fmt.Errorf("artifact: resolve base path: %w", err)
	}
	joined := filepath.Join(absBase, filepath.FromSlash(untrustedPath))
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("artifact: resolve path: %w", err)
	}
	if !strings.HasPrefix(absJoined, absBase+string(filepath.Separator)) && absJoined != absBase {
		return "", fmt.Errorf("artifact: path traversal detected: %q resolves outside base %q", untrustedPath, absBase)
	}
	return absJoined, nil
}

func copyFile(ctx context.Context, srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, contextReader{ctx, src}); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return dest.Close()
}

// contextReader aborts a long copy early if ctx is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
