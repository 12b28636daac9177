// Package archive copies finished workflow results to S3-compatible object
// storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/ggonzalez94/yieldmove/internal/config"
	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/workflow"
)

// putter is the part of *s3.Client the archiver uses.
type putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Credentials are optional static keys. Empty keys fall back to the default
// AWS credential chain.
type Credentials struct {
	AccessKey string
	SecretKey string
}

type S3Archiver struct {
	client putter
	bucket string
	prefix string
	logger *zap.Logger
}

// New builds an archiver for settings. Endpoint overrides target
// S3-compatible providers such as MinIO or R2.
func New(ctx context.Context, settings config.ArchiveSettings, creds Credentials, logger *zap.Logger) (*S3Archiver, error) {
	if strings.TrimSpace(settings.S3Bucket) == "" {
		return nil, clierr.New(clierr.CodeConfig, "archive bucket is required")
	}
	region := strings.TrimSpace(settings.S3Region)
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if creds.AccessKey != "" && creds.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeConfig, "load aws config", err)
	}

	var s3Opts []func(*s3.Options)
	if endpoint := strings.TrimSpace(settings.S3Endpoint); endpoint != "" {
		endpoint = withScheme(endpoint)
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(endpoint) })
	}
	if settings.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	return newArchiver(s3.NewFromConfig(awsCfg, s3Opts...), settings.S3Bucket, settings.S3Prefix, logger), nil
}

func newArchiver(client putter, bucket, prefix string, logger *zap.Logger) *S3Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Archiver{
		client: client,
		bucket: strings.TrimSpace(bucket),
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
		logger: logger.Named("archive"),
	}
}

// Key is {prefix}/{yyyy}/{mm}/{dd}/{id}.json by the result's start time.
func (a *S3Archiver) Key(result workflow.ExecutionResult) string {
	day := result.StartedAt.UTC().Format("2006/01/02")
	return path.Join(a.prefix, day, result.ID+".json")
}

func (a *S3Archiver) Archive(ctx context.Context, result workflow.ExecutionResult) error {
	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	key := a.Key(result)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"kind":   string(result.Kind),
			"status": string(result.Status),
		},
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	a.logger.Debug("result archived", zap.String("bucket", a.bucket), zap.String("key", key))
	return nil
}

func withScheme(endpoint string) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	return "https://" + endpoint
}
