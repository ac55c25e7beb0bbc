package aws

import (
	"context"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MaxPresignExpiry is the longest lifetime handed out for a signed URL.
const MaxPresignExpiry = time.Hour

// S3Presigner issues time-limited GET URLs for private objects in one bucket.
type S3Presigner struct {
	presigner *s3.PresignClient
	bucket    string
}

// NewS3Client creates a new S3 client from AWS config. Path-style addressing
// is forced when a custom endpoint is configured (LocalStack).
func NewS3Client(cfg sdkaws.Config) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != nil {
			o.UsePathStyle = true
		}
	})
}

func NewS3Presigner(cfg sdkaws.Config, bucket string) *S3Presigner {
	return &S3Presigner{
		presigner: s3.NewPresignClient(NewS3Client(cfg)),
		bucket:    bucket,
	}
}

// PresignGet returns a signed GET URL for key. The expiry is clamped to
// (0, MaxPresignExpiry]. When downloadName is set the response is served as
// an attachment with that file name.
func (p *S3Presigner) PresignGet(ctx context.Context, key, downloadName string, expiry time.Duration) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty object key")
	}
	if expiry <= 0 || expiry > MaxPresignExpiry {
		expiry = MaxPresignExpiry
	}

	input := &s3.GetObjectInput{
		Bucket: sdkaws.String(p.bucket),
		Key:    sdkaws.String(key),
	}
	if downloadName != "" {
		input.ResponseContentDisposition = sdkaws.String(fmt.Sprintf("attachment; filename=%q", downloadName))
	}

	presigned, err := p.presigner.PresignGetObject(ctx, input, func(o *s3.PresignOptions) {
		o.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign get object: %w", err)
	}
	return presigned.URL, nil
}
