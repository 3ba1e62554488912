package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"greendrake/offers/internal/config"
)

// UploadExpiry is how long a presigned upload URL stays valid.
const UploadExpiry = 15 * time.Minute

// UploadTarget is where a client PUTs a document file before registering it.
type UploadTarget struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	FileURL   string    `json:"file_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IS3Storage defines the interface for S3 operations.
type IS3Storage interface {
	PresignDocumentUpload(ctx context.Context, offerID, fileName, contentType string) (*UploadTarget, error)
}

// s3Storage implements IS3Storage.
type s3Storage struct {
	bucket  string
	region  string
	presign func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (string, error)
	now     func() time.Time
}

// NewS3Storage creates a new S3 storage service.
func NewS3Storage(cfg *config.Config) (IS3Storage, error) {
	if cfg.AwsS3Bucket == "" {
		return nil, fmt.Errorf("AWS_S3_BUCKET is not set")
	}
	awsCfg, err := aws_config.LoadDefaultConfig(context.TODO(),
		aws_config.WithRegion(cfg.AwsRegion),
		// Static credentials from config; IAM roles work when these are empty.
		aws_config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AwsAccessKeyID,
			cfg.AwsSecretAccessKey,
			"", // session token
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	presignClient := s3.NewPresignClient(s3.NewFromConfig(awsCfg))
	return newS3Storage(cfg.AwsS3Bucket, cfg.AwsRegion, func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (string, error) {
		req, err := presignClient.PresignPutObject(ctx, params, optFns...)
		if err != nil {
			return "", err
		}
		return req.URL, nil
	}), nil
}

func newS3Storage(bucket, region string, presign func(context.Context, *s3.PutObjectInput, ...func(*s3.PresignOptions)) (string, error)) *s3Storage {
	return &s3Storage{bucket: bucket, region: region, presign: presign, now: time.Now}
}

// PresignDocumentUpload creates a pre-signed PUT URL for an offer document.
// Keys look like offers/<offerID>/<uuid>_<filename>.
func (s *s3Storage) PresignDocumentUpload(ctx context.Context, offerID, fileName, contentType string) (*UploadTarget, error) {
	objectKey := fmt.Sprintf("offers/%s/%s_%s", offerID, uuid.NewString(), sanitizeFileName(fileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	params := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		ContentType: aws.String(contentType),
	}
	url, err := s.presign(ctx, params, s3.WithPresignExpires(UploadExpiry))
	if err != nil {
		return nil, fmt.Errorf("failed to generate presigned PUT URL for key %s: %w", objectKey, err)
	}

	return &UploadTarget{
		URL:       url,
		Key:       objectKey,
		FileURL:   fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, objectKey),
		ExpiresAt: s.now().Add(UploadExpiry).UTC(),
	}, nil
}

// sanitizeFileName keeps the base name and replaces characters that do not
// belong in an object key.
func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 || name == "." || name == "/" {
		return "file"
	}
	return b.String()
}
