package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Backblaze/blazer/b2"

	"github.com/mozfx/coldstart/internal/logging"
)

var b2log = logging.L("artifact.b2")

// B2Provider fetches a build archive from a Backblaze B2 bucket,
// exercising an SDK dependency the teacher's go.mod declared but never
// imported.
type B2Provider struct {
	bucket *b2.Bucket
}

// NewB2Provider builds a B2Provider for bucketName, authenticating with
// an application key ID and key.
func NewB2Provider(ctx context.Context, bucketName, keyID, key string) (*B2Provider, error) {
	if bucketName == "" || keyID == "" || key == "" {
		return nil, fmt.Errorf("artifact: b2 bucket, key id, and key are required")
	}

	client, err := b2.NewClient(ctx, keyID, key)
	if err != nil {
		return nil, fmt.Errorf("artifact: create b2 client: %w", err)
	}

	bucket, err := client.Bucket(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("artifact: open b2 bucket %s: %w", bucketName, err)
	}

	return &B2Provider{bucket: bucket}, nil
}

// FetchBuild downloads <bucket>/<taskID>.zip into dir.
func (p *B2Provider) FetchBuild(ctx context.Context, taskID, dir string) (string, error) {
	objectName := taskID + ".zip"
	destPath := filepath.Join(dir, objectName)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("artifact: create dir %s: %w", dir, err)
	}

	reader := p.bucket.Object(objectName).NewReader(ctx)
	defer reader.Close()

	b2log.Info("downloading build", "object", objectName)

	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("artifact: create %s: %w", destPath, err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, reader); err != nil {
		return "", fmt.Errorf("artifact: copy b2 object: %w", err)
	}
	return destPath, nil
}
