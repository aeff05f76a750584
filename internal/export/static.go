package export

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"time"
)

// StaticSigner serves exports from a fixed base URL. The expiry travels as a
// query parameter for the file server to enforce.
type StaticSigner struct {
	base *url.URL
}

func NewStaticSigner(baseURL string) (*StaticSigner, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse export base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("export base url %q must be absolute", baseURL)
	}
	return &StaticSigner{base: u}, nil
}

func (s *StaticSigner) SignedURL(ctx context.Context, objectName string, expires time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	u := *s.base
	u.Path = path.Join("/", u.Path, objectName)
	q := u.Query()
	q.Set("expires", strconv.FormatInt(expires.Unix(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
