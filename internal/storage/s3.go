package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"scriptrunner/internal/core"
)

var _ core.Uploader = (*S3Uploader)(nil)

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader puts artifacts under s3://bucket/prefix.
type S3Uploader struct {
	client putObjectAPI
	bucket string
	prefix string
}

func NewS3Uploader(client putObjectAPI, bucket, prefix string) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket, prefix: prefix}
}

// NewS3FromConfig builds a client from the default AWS credential chain.
func NewS3FromConfig(ctx context.Context, bucket, prefix string) (*S3Uploader, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3Uploader(s3.NewFromConfig(cfg), bucket, prefix), nil
}

func (u *S3Uploader) Upload(ctx context.Context, filePath string, key string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filePath, err)
	}
	defer file.Close()

	objectKey := path.Join(u.prefix, key)
	if _, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(objectKey),
		Body:        file,
		ContentType: aws.String(contentType(filePath)),
	}); err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", u.bucket, objectKey, err)
	}

	return fmt.Sprintf("s3://%s/%s", u.bucket, objectKey), nil
}

func contentType(filePath string) string {
	switch filepath.Ext(filePath) {
	case ".xml":
		return "application/xml"
	case ".json":
		return "application/json"
	case ".log", ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
