// Package awsconf builds the shared AWS client configuration.
package awsconf

import (
	"context"
	"fmt"

	"github.com/ashureev/feedback-ai/internal/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Load resolves region, credentials and the standard retryer capped at
// maxAttempts. Static keys win over the default credential chain.
func Load(ctx context.Context, cfg config.AWSConfig, maxAttempts int) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMode(aws.RetryModeStandard),
	}
	if maxAttempts > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(maxAttempts))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}
