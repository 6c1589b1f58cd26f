// Package artifact fetches a browser build archive from wherever it is
// staged — a local directory, or one of several cloud object stores —
// down to a worker's session directory.
package artifact

import (
	"context"
	"fmt"
)

// Provider fetches the archive for a build task into dir, returning the
// path of the archive it wrote. spec.md §1 specifies only this contract
// (fetch_build(task_id, dir) -> archive_path); everything else here is
// the concrete backend selection this repository adds.
type Provider interface {
	FetchBuild(ctx context.Context, taskID, dir string) (archivePath string, err error)
}

// Kind selects which concrete Provider backend a worker uses.
type Kind string

const (
	KindLocal Kind = "local"
	KindS3    Kind = "s3"
	KindAzure Kind = "azure"
	KindGCS   Kind = "gcs"
	KindB2    Kind = "b2"
)

// Config carries the settings needed to construct any one backend.
// Fields irrelevant to the selected Kind are ignored.
type Config struct {
	Kind Kind

	// local
	LocalBasePath string

	// s3
	S3Bucket string
	S3Region string

	// azure
	AzureContainerURL string

	// gcs
	GCSBucket string

	// b2
	B2Bucket string
	B2KeyID  string
	B2Key    string
}

// New constructs the Provider selected by cfg.Kind.
func New(ctx context.Context, cfg Config) (Provider, error) {
	switch cfg.Kind {
	case KindLocal, "":
		return NewLocalProvider(cfg.LocalBasePath), nil
	case KindS3:
		return NewS3Provider(ctx, cfg.S3Bucket, cfg.S3Region)
	case KindAzure:
		return NewAzureBlobProvider(cfg.AzureContainerURL)
	case KindGCS:
		return NewGCSProvider(ctx, cfg.GCSBucket)
	case KindB2:
		return NewB2Provider(ctx, cfg.B2Bucket, cfg.B2KeyID, cfg.B2Key)
	default:
		return nil, fmt.Errorf("artifact: unknown provider kind %q", cfg.Kind)
	}
}
