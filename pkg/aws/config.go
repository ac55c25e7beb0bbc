package aws

import (
	"context"
	"fmt"
	"os"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/samber/lo"
)

// LoadAWSConfig loads the default AWS config. AWS_ENDPOINT (or the older
// AWS_SQS_ENDPOINT / AWS_S3_ENDPOINT) points every client at one URL, which
// is how LocalStack is used in development; without explicit keys the
// LocalStack dummy credentials are used there.
func LoadAWSConfig(ctx context.Context) (sdkaws.Config, error) {
	endpoint := localEndpoint()

	var opts []func(*config.LoadOptions) error
	if endpoint != "" && os.Getenv("AWS_ACCESS_KEY_ID") == "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return cfg, fmt.Errorf("load aws config: %w", err)
	}
	if endpoint != "" {
		cfg.BaseEndpoint = sdkaws.String(endpoint)
	}
	return cfg, nil
}

func localEndpoint() string {
	return lo.FindOrElse([]string{
		os.Getenv("AWS_ENDPOINT"),
		os.Getenv("AWS_SQS_ENDPOINT"),
		os.Getenv("AWS_S3_ENDPOINT"),
	}, "", func(v string) bool { return v != "" })
}
