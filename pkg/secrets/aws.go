package secrets

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// AWSConfig configures the AWS Secrets Manager backend. Credentials default
// to the SDK's standard chain; static keys override it when set. Endpoint
// points fetches at LocalStack in development.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Endpoint        string
}

type awsBackend struct {
	client *secretsmanager.Client
}

func newAWSBackend(ctx context.Context, cfg AWSConfig) (backend, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("secrets: aws backend requires region")
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		static := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
		loadOpts = append(loadOpts, config.WithCredentialsProvider(aws.NewCredentialsCache(static)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: failed to load aws config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &awsBackend{client: client}, nil
}

func (a *awsBackend) Kind() ProviderType {
	return ProviderAWS
}

func (a *awsBackend) Close() error {
	return nil
}

func (a *awsBackend) Fetch(ctx context.Context, ref Reference) (Secret, error) {
	input := &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref.Path),
	}
	if ref.Version != "" {
		input.VersionId = aws.String(ref.Version)
	}

	result, err := a.client.GetSecretValue(ctx, input)
	if err != nil {
		return Secret{}, fmt.Errorf("secrets: aws fetch failed for %s: %w", ref.Path, err)
	}

	// JSON payloads become key/value entries; anything else lands under
	// the "value" key so #value selects it.
	data := make(map[string]string)
	if result.SecretString != nil {
		if err := json.Unmarshal([]byte(*result.SecretString), &data); err != nil {
			data = map[string]string{"value": *result.SecretString}
		}
	}
	if result.SecretBinary != nil {
		data["binary"] = base64.StdEncoding.EncodeToString(result.SecretBinary)
	}

	md := Metadata{}
	if result.VersionId != nil {
		md.Version = *result.VersionId
	}
	if result.CreatedDate != nil {
		md.CreatedAt = *result.CreatedDate
	}

	return Secret{Data: data, Metadata: md}, nil
}
