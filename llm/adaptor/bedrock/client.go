// Package bedrock adapts AWS Bedrock to the neutral conversation model.
// Two adapters live here: Adaptor speaks the Converse API, InvokeAdaptor
// speaks the Anthropic messages format over InvokeModel for Claude models
// that need request fields Converse does not expose.
package bedrock

import (
	"context"
	"sync"

	"github.com/Laisky/errors/v2"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/orchidlake/llmstudio/common/config"
)

var (
	clientOnce   sync.Once
	sharedClient *bedrockruntime.Client
	clientErr    error
)

// Client returns the process-wide Bedrock runtime client. Static credentials
// from AWS_ACCESS_KEY/AWS_SECRET_KEY take priority; without them the default
// provider chain applies (instance profile, env, shared config).
func Client(ctx context.Context) (*bedrockruntime.Client, error) {
	clientOnce.Do(func() {
		opts := []func(*awsconfig.LoadOptions) error{
			awsconfig.WithRegion(config.AwsRegion),
		}
		if config.AwsAccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(config.AwsAccessKey, config.AwsSecretKey, "")))
		}

		defaultConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			clientErr = errors.Wrap(err, "load aws config")
			return
		}
		sharedClient = bedrockruntime.NewFromConfig(defaultConfig)
	})
	return sharedClient, clientErr
}
