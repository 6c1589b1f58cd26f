package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mozfx/coldstart/internal/logging"
)

var s3log = logging.L("artifact.s3")

// S3Provider fetches a build archive from an S3 bucket using the AWS SDK
// download manager, replacing the teacher's stub S3Provider (which
// declared aws-sdk-go-v2 in go.mod but never called it).
type S3Provider struct {
	bucket     string
	downloader *manager.Downloader
}

// NewS3Provider builds an S3Provider for bucket in region, loading
// credentials from the default AWS credential chain.
func NewS3Provider(ctx context.Context, bucket, region string) (*S3Provider, error) {
	if bucket == "" || region == "" {
		return nil, fmt.Errorf("artifact: s3 bucket and region are required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("artifact: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3Provider{
		bucket:     bucket,
		downloader: manager.NewDownloader(client),
	}, nil
}

// FetchBuild downloads s3://<bucket>/<taskID>.zip into dir.
func (p *S3Provider) FetchBuild(ctx context.Context, taskID, dir string) (string, error) {
	destPath := filepath.Join(dir, taskID+".zip")

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("artifact: create dir %s: %w", dir, err)
	}

	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("artifact: create %s: %w", destPath, err)
	}
	defer dest.Close()

	key := taskID + ".zip"
	s3log.Info("downloading build", "bucket", p.bucket, "key", key)

	n, err := p.downloader.Download(ctx, dest, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("artifact: download s3://%s/%s: %w", p.bucket, key, err)
	}

	s3log.Info("downloaded build", "bytes", n)
	return destPath, nil
}
