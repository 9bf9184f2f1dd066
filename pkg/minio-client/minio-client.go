package minioclient

import (
	"context"
	"fmt"
	"time"

	"github.com/AlexMickh/market-chat/pkg/utils/retry"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	endpoint   string
	user       string
	password   string
	bucketName string
	isUseSsl   bool
}

func NewConfig(
	endpoint string,
	user string,
	password string,
	bucketName string,
	isUseSsl bool,
) *MinioConfig {
	return &MinioConfig{
		endpoint:   endpoint,
		user:       user,
		password:   password,
		bucketName: bucketName,
		isUseSsl:   isUseSsl,
	}
}

// PublicReadPolicy lets anyone GET objects in bucket, so message image links
// stay valid without presigning.
func PublicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{
	"Version": "2012-10-17",
	"Statement": [{
		"Effect": "Allow",
		"Principal": {"AWS": ["*"]},
		"Action": ["s3:GetObject"],
		"Resource": ["arn:aws:s3:::%s/*"]
	}]
}`, bucket)
}

func New(ctx context.Context, cfg *MinioConfig) (*minio.Client, error) {
	const op = "minio-client.New"

	var mc *minio.Client

	err := retry.WithDelay(5, 500*time.Millisecond, func() error {
		var err error

		mc, err = minio.New(cfg.endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.user, cfg.password, ""),
			Secure: cfg.isUseSsl,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		exists, err := mc.BucketExists(ctx, cfg.bucketName)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !exists {
			err = mc.MakeBucket(ctx, cfg.bucketName, minio.MakeBucketOptions{})
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}

		err = mc.SetBucketPolicy(ctx, cfg.bucketName, PublicReadPolicy(cfg.bucketName))
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return mc, nil
}
