// Package storage issues short-lived download URLs for purchased assets.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

// DefaultTTL is the lifetime of a signed download URL.
const DefaultTTL = time.Hour

// ErrInvalidAssetReference is returned for empty or path-escaping asset references.
var ErrInvalidAssetReference = errors.New("invalid asset reference")

// Signer issues a URL granting time-limited read access to exactly one asset.
type Signer interface {
	SignDownloadURL(ctx context.Context, assetReference string, ttl time.Duration) (string, error)
}

// cleanReference normalizes an asset reference into an object key.
func cleanReference(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "/") || strings.Contains(ref, "\\") {
		return "", ErrInvalidAssetReference
	}
	for _, part := range strings.Split(ref, "/") {
		if part == ".." {
			return "", ErrInvalidAssetReference
		}
	}
	return path.Clean(ref), nil
}

func attachmentDisposition(key string) string {
	name := strings.ReplaceAll(path.Base(key), `"`, "")
	return `attachment; filename="` + name + `"`
}

func effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
