package aws

import (
	"context"
	"testing"

	"attendance.bridge/internal/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAWSConfig_LocalDev(t *testing.T) {
	cfg, err := NewAWSConfig(context.Background(), config.Config{
		IsLocalDev:  true,
		AWSRegion:   "eu-west-1",
		AWSEndpoint: "http://localhost:4566",
	})
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, "http://localhost:4566", aws.ToString(cfg.BaseEndpoint))

	creds, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)
}
