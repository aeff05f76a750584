// Package export signs download URLs for exported queue item files.
package export

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
)

// GCSSigner issues V4 signed GET URLs for objects in one bucket.
type GCSSigner struct {
	client *storage.Client
	bucket string
	sign   func(object string, opts *storage.SignedURLOptions) (string, error)
}

// NewGCSSigner creates a storage client from ambient credentials.
func NewGCSSigner(ctx context.Context, bucket string) (*GCSSigner, error) {
	if bucket == "" {
		return nil, fmt.Errorf("export bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSSigner{
		client: client,
		bucket: bucket,
		sign:   client.Bucket(bucket).SignedURL,
	}, nil
}

func (s *GCSSigner) SignedURL(ctx context.Context, objectName string, expires time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	url, err := s.sign(objectName, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: expires,
	})
	if err != nil {
		return "", fmt.Errorf("sign gs://%s/%s: %w", s.bucket, objectName, err)
	}
	return url, nil
}

// Close releases the storage client.
func (s *GCSSigner) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
