// Package storage builds the object store selected by configuration.
package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	gcsapi "google.golang.org/api/storage/v1"

	"launchpad/internal/adapters/storage/gcs"
	"launchpad/internal/adapters/storage/localfs"
	"launchpad/internal/adapters/storage/s3"
	"launchpad/internal/config"
)

func NewProvider(ctx context.Context, cfg config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case "", config.StorageLocalFS:
		return localfs.New(cfg.LocalRoot), nil
	case config.StorageS3:
		return newS3Provider(ctx, cfg)
	case config.StorageGCS:
		return newGCSProvider(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}

func newS3Provider(ctx context.Context, cfg config.StorageConfig) (Provider, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			// S3-compatible endpoints (MinIO, localstack) need path-style.
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return s3.NewClient(client, cfg.Bucket, cfg.Prefix), nil
}

func newGCSProvider(ctx context.Context, cfg config.StorageConfig) (Provider, error) {
	opts := []option.ClientOption{}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	} else {
		creds, err := google.FindDefaultCredentials(ctx, gcsapi.DevstorageReadWriteScope)
		if err != nil {
			return nil, fmt.Errorf("find google credentials: %w", err)
		}
		opts = append(opts, option.WithTokenSource(creds.TokenSource))
	}

	srv, err := gcsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return gcs.NewClient(srv, cfg.Bucket, cfg.Prefix), nil
}
