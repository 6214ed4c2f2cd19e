package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LocalSigner serves assets from a directory behind HMAC-signed, expiring
// URLs. It stands in for object storage in development.
type LocalSigner struct {
	baseURL string
	root    string
	secret  []byte
	now     func() time.Time
	logger  zerolog.Logger
}

// NewLocalSigner creates a signer whose URLs point at baseURL (for example
// "http://localhost:8080/files") and are served from root.
func NewLocalSigner(baseURL, root, secret string, logger zerolog.Logger) *LocalSigner {
	return &LocalSigner{
		baseURL: strings.TrimRight(baseURL, "/"),
		root:    root,
		secret:  []byte(secret),
		now:     time.Now,
		logger:  logger.With().Str("component", "local-signer").Logger(),
	}
}

func (s *LocalSigner) SignDownloadURL(_ context.Context, assetReference string, ttl time.Duration) (string, error) {
	ref, err := cleanReference(assetReference)
	if err != nil {
		return "", err
	}

	expires := s.now().Add(effectiveTTL(ttl)).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", s.sign(ref, expires))

	return fmt.Sprintf("%s/%s?%s", s.baseURL, (&url.URL{Path: ref}).EscapedPath(), q.Encode()), nil
}

// ServeHTTP serves the asset named by the request path if its signature is valid
// and unexpired. Mount it with the base path stripped.
func (s *LocalSigner) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ref, err := cleanReference(strings.TrimPrefix(r.URL.Path, "/"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	expires, err := strconv.ParseInt(r.URL.Query().Get("expires"), 10, 64)
	if err != nil || s.now().Unix() > expires {
		http.Error(w, "link expired", http.StatusForbidden)
		return
	}
	if !hmac.Equal([]byte(s.sign(ref, expires)), []byte(r.URL.Query().Get("signature"))) {
		s.logger.Warn().Str("ref", ref).Msg("rejected download with bad signature")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	full := filepath.Join(s.root, filepath.FromSlash(ref))
	if _, err := os.Stat(full); err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Disposition", attachmentDisposition(ref))
	http.ServeFile(w, r, full)
}

func (s *LocalSigner) sign(ref string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(ref))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
