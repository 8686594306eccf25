package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DocumentSigner issues signed upload URLs for order documents stored in a
// single bucket. It adapts the generic signed URL client to the narrow
// interface the order workflow consumes.
type DocumentSigner struct {
	client *Client
	bucket string
}

// NewDocumentSigner wires a signed URL client to the documents bucket.
func NewDocumentSigner(client *Client, bucket string) (*DocumentSigner, error) {
	if client == nil {
		return nil, errors.New("storage: signed url client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	return &DocumentSigner{client: client, bucket: bucket}, nil
}

// SignUpload returns a V4 signed PUT URL for the given object.
func (s *DocumentSigner) SignUpload(ctx context.Context, object string, contentType string, expires time.Time) (string, error) {
	if s == nil || s.client == nil {
		return "", errNoSigner
	}

	expiresIn := time.Until(expires)
	if !expires.IsZero() && s.client.now != nil {
		expiresIn = expires.Sub(s.client.now())
	}

	result, err := s.client.SignedURL(ctx, s.bucket, object, SignedURLOptions{
		Upload: &UploadOptions{
			Method:      httpMethodPut,
			ContentType: contentType,
			ExpiresIn:   expiresIn,
		},
	})
	if err != nil {
		return "", err
	}
	return result.URL, nil
}

// ObjectURL returns the canonical (unsigned) URL of a stored object.
func (s *DocumentSigner) ObjectURL(object string) string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, strings.TrimPrefix(strings.TrimSpace(object), "/"))
}
