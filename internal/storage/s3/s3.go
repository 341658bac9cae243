package s3

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	initTimeout = 5 * time.Second
)

// NewClient creates a new MinIO client
func NewClient(endpoint, accessKey, secretKey string, useSSL bool) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return client, nil
}

// EnsureBucket makes sure a bucket exists
func EnsureBucket(parentCtx context.Context, client *minio.Client, bucketName string) error {
	ctx, cancel := context.WithTimeout(parentCtx, initTimeout)
	defer cancel()

	exist, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check whether bucket exist: %w", err)
	}

	if !exist {
		err = client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// BucketProbe checks that the content bucket is reachable, for health checks
type BucketProbe struct {
	client     *minio.Client
	bucketName string
}

func NewBucketProbe(client *minio.Client, bucketName string) *BucketProbe {
	return &BucketProbe{client: client, bucketName: bucketName}
}

func (p *BucketProbe) Ping(ctx context.Context) error {
	exist, err := p.client.BucketExists(ctx, p.bucketName)
	if err != nil {
		return err
	}
	if !exist {
		return fmt.Errorf("bucket %s does not exist", p.bucketName)
	}
	return nil
}
