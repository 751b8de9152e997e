package aws

import (
	"context"

	"attendance.bridge/internal/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/rs/zerolog/log"
)

// NewAWSConfig creates the SDK config shared by the SQS and SES clients. In
// local dev, calls go to AWS_ENDPOINT (LocalStack) with static test credentials.
func NewAWSConfig(ctx context.Context, appConfig config.Config) (aws.Config, error) {
	opts := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(appConfig.AWSRegion),
	}

	if appConfig.IsLocalDev {
		log.Info().Str("endpoint", appConfig.AWSEndpoint).Msg("Local development mode detected. Routing AWS calls to LocalStack.")
		opts = append(opts, awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")))
		if appConfig.AWSEndpoint != "" {
			opts = append(opts, awsConfig.WithBaseEndpoint(appConfig.AWSEndpoint))
		}
		return awsConfig.LoadDefaultConfig(ctx, opts...)
	}

	// Standard credential chain (env, shared profile, instance role).
	log.Debug().Str("region", appConfig.AWSRegion).Msg("Using standard AWS credential chain")
	return awsConfig.LoadDefaultConfig(ctx, opts...)
}
