package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Options configures an S3-compatible bucket. Endpoint and static keys are
// optional; without them the default AWS credential chain is used.
type S3Options struct {
	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// s3Signer presigns GetObject requests.
type s3Signer struct {
	presigner *s3.PresignClient
	bucket    string
	prefix    string
	logger    zerolog.Logger
}

// NewS3Signer creates a signer for an S3 or S3-compatible bucket.
func NewS3Signer(ctx context.Context, opts S3Options, logger zerolog.Logger) (Signer, error) {
	logger = logger.With().Str("component", "s3-signer").Logger()

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	logger.Info().
		Str("bucket", opts.Bucket).
		Str("region", opts.Region).
		Bool("custom_endpoint", opts.Endpoint != "").
		Msg("S3 signer initialised")

	return &s3Signer{
		presigner: s3.NewPresignClient(client),
		bucket:    opts.Bucket,
		prefix:    opts.Prefix,
		logger:    logger,
	}, nil
}

// SignDownloadURL presigns a GetObject for the asset that downloads as an attachment.
func (s *s3Signer) SignDownloadURL(ctx context.Context, assetReference string, ttl time.Duration) (string, error) {
	ref, err := cleanReference(assetReference)
	if err != nil {
		return "", err
	}
	key := s.prefix + ref

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(s.bucket),
		Key:                        aws.String(key),
		ResponseContentDisposition: aws.String(attachmentDisposition(key)),
	}, s3.WithPresignExpires(effectiveTTL(ttl)))
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("bucket", s.bucket).
			Str("key", key).
			Msg("failed to presign download")
		return "", fmt.Errorf("failed to presign download (bucket=%s, key=%s): %w", s.bucket, key, err)
	}

	return req.URL, nil
}
