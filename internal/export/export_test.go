package export

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/storage"
)

var expires = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func TestStaticSigner(t *testing.T) {
	tests := []struct {
		name   string
		base   string
		object string
		want   string
	}{
		{
			name:   "base with path",
			base:   "http://localhost:6161/exports",
			object: "f1/queue-items-20260301-120000.csv",
			want:   "http://localhost:6161/exports/f1/queue-items-20260301-120000.csv?expires=1772452800",
		},
		{
			name:   "trailing slash",
			base:   "https://files.example.com/",
			object: "f1/a.csv",
			want:   "https://files.example.com/f1/a.csv?expires=1772452800",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStaticSigner(tt.base)
			if err != nil {
				t.Fatalf("NewStaticSigner: %v", err)
			}
			got, err := s.SignedURL(context.Background(), tt.object, expires)
			if err != nil {
				t.Fatalf("SignedURL: %v", err)
			}
			if got != tt.want {
				t.Errorf("url = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStaticSignerRejectsRelativeBase(t *testing.T) {
	if _, err := NewStaticSigner("/exports"); err == nil {
		t.Error("expected error for relative base url")
	}
}

func TestStaticSignerCancelledContext(t *testing.T) {
	s, err := NewStaticSigner("http://localhost/exports")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.SignedURL(ctx, "x.csv", expires); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestGCSSignerOptions(t *testing.T) {
	var got *storage.SignedURLOptions
	var gotObject string
	s := &GCSSigner{
		bucket: "exports",
		sign: func(object string, opts *storage.SignedURLOptions) (string, error) {
			gotObject, got = object, opts
			return "https://signed.example/" + object, nil
		},
	}

	url, err := s.SignedURL(context.Background(), "f1/a.csv", expires)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if url != "https://signed.example/f1/a.csv" || gotObject != "f1/a.csv" {
		t.Errorf("url = %q object = %q", url, gotObject)
	}
	if got.Scheme != storage.SigningSchemeV4 || got.Method != http.MethodGet || !got.Expires.Equal(expires) {
		t.Errorf("options = %+v", got)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestGCSSignerWrapsError(t *testing.T) {
	s := &GCSSigner{
		bucket: "exports",
		sign: func(string, *storage.SignedURLOptions) (string, error) {
			return "", errors.New("unable to detect default GoogleAccessID")
		},
	}
	_, err := s.SignedURL(context.Background(), "f1/a.csv", expires)
	if err == nil || !strings.Contains(err.Error(), "gs://exports/f1/a.csv") {
		t.Errorf("err = %v", err)
	}
}

func TestGCSSignerWithServiceAccountKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	s := &GCSSigner{
		bucket: "exports",
		sign: func(object string, opts *storage.SignedURLOptions) (string, error) {
			opts.GoogleAccessID = "exporter@botmaster.iam.gserviceaccount.com"
			opts.PrivateKey = pemKey
			return storage.SignedURL("exports", object, opts)
		},
	}

	raw, err := s.SignedURL(context.Background(), "f1/a.csv", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.Contains(u.Path, "f1/a.csv") {
		t.Errorf("path = %q", u.Path)
	}
	if alg := u.Query().Get("X-Goog-Algorithm"); alg != "GOOG4-RSA-SHA256" {
		t.Errorf("X-Goog-Algorithm = %q", alg)
	}
	if u.Query().Get("X-Goog-Signature") == "" {
		t.Error("missing signature")
	}
}
