package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresignDocumentUpload(t *testing.T) {
	var got *s3.PutObjectInput
	st := newS3Storage("docs-bucket", "us-east-1", func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (string, error) {
		got = params
		return "https://signed.example/put", nil
	})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return fixed }

	target, err := st.PresignDocumentUpload(context.Background(), "0123456789", "../escritura final.pdf", "application/pdf")
	require.NoError(t, err)

	assert.Equal(t, "https://signed.example/put", target.URL)
	assert.True(t, strings.HasPrefix(target.Key, "offers/0123456789/"))
	assert.True(t, strings.HasSuffix(target.Key, "_escritura_final.pdf"))
	assert.Equal(t, "https://docs-bucket.s3.us-east-1.amazonaws.com/"+target.Key, target.FileURL)
	assert.Equal(t, fixed.Add(UploadExpiry), target.ExpiresAt)
	require.NotNil(t, got)
	assert.Equal(t, "docs-bucket", *got.Bucket)
	assert.Equal(t, "application/pdf", *got.ContentType)
}

func TestPresignDocumentUpload_Error(t *testing.T) {
	st := newS3Storage("b", "r", func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (string, error) {
		return "", errors.New("no credentials")
	})
	_, err := st.PresignDocumentUpload(context.Background(), "0123456789", "a.pdf", "")
	assert.ErrorContains(t, err, "no credentials")
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "plano.png", sanitizeFileName("plano.png"))
	assert.Equal(t, "x.pdf", sanitizeFileName(`C:\tmp\x.pdf`))
	assert.Equal(t, "file", sanitizeFileName(""))
}
