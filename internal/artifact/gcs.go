package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"

	"github.com/mozfx/coldstart/internal/logging"
)

var gcslog = logging.L("artifact.gcs")

// GCSProvider fetches a build archive from a Google Cloud Storage
// bucket, exercising an SDK dependency the teacher's go.mod declared but
// never imported.
type GCSProvider struct {
	client *storage.Client
	bucket string
}

// NewGCSProvider builds a GCSProvider for bucket, using application
// default credentials.
func NewGCSProvider(ctx context.Context, bucket string) (*GCSProvider, error) {
	if bucket == "" {
		return nil, fmt.Errorf("artifact: gcs bucket is required")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifact: create gcs client: %w", err)
	}
	return &GCSProvider{client: client, bucket: bucket}, nil
}

// FetchBuild downloads gs://<bucket>/<taskID>.zip into dir.
func (p *GCSProvider) FetchBuild(ctx context.Context, taskID, dir string) (string, error) {
	objectName := taskID + ".zip"
	destPath := filepath.Join(dir, objectName)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("artifact: create dir %s: %w", dir, err)
	}

	reader, err := p.client.Bucket(p.bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		return "", fmt.Errorf("artifact: open gcs object gs://%s/%s: %w", p.bucket, objectName, err)
	}
	defer reader.Close()

	gcslog.Info("downloading build", "bucket", p.bucket, "object", objectName)

	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("artifact: create %s: %w", destPath, err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, reader); err != nil {
		return "", fmt.Errorf("artifact: copy gcs object: %w", err)
	}
	return destPath, nil
}
