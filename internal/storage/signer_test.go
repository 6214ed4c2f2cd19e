package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanReference(t *testing.T) {
	tests := []struct {
		ref     string
		want    string
		wantErr bool
	}{
		{ref: "books/guide-ar.pdf", want: "books/guide-ar.pdf"},
		{ref: " books//guide.pdf ", want: "books/guide.pdf"},
		{ref: "", wantErr: true},
		{ref: "/etc/passwd", wantErr: true},
		{ref: "books/../../secret", wantErr: true},
		{ref: `books\guide.pdf`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := cleanReference(tt.ref)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAssetReference)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestS3Signer_PresignsScopedExpiringURL(t *testing.T) {
	signer, err := NewS3Signer(context.Background(), S3Options{
		Bucket:          "assets",
		Region:          "auto",
		Prefix:          "products/",
		Endpoint:        "https://account.r2.cloudflarestorage.com",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
	}, zerolog.Nop())
	require.NoError(t, err)

	raw, err := signer.SignDownloadURL(context.Background(), "books/guide-ar.pdf", 15*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "account.r2.cloudflarestorage.com", u.Host)
	assert.Equal(t, "/assets/products/books/guide-ar.pdf", u.Path)
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	assert.Contains(t, u.Query().Get("response-content-disposition"), "guide-ar.pdf")

	_, err = signer.SignDownloadURL(context.Background(), "../other", time.Minute)
	assert.ErrorIs(t, err, ErrInvalidAssetReference)
}

func TestLocalSigner_RoundTrip(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "books"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "books", "guide.pdf"), []byte("%PDF-1.7"), 0o644))

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	signer := NewLocalSigner("http://localhost:8080/files", root, "dev-secret", zerolog.Nop())
	signer.now = func() time.Time { return now }

	raw, err := signer.SignDownloadURL(context.Background(), "books/guide.pdf", time.Hour)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, "http://localhost:8080/files/books/guide.pdf?"))

	u, _ := url.Parse(raw)
	serve := func(path string, query url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path+"?"+query.Encode(), nil)
		rec := httptest.NewRecorder()
		signer.ServeHTTP(rec, req)
		return rec
	}

	t.Run("valid", func(t *testing.T) {
		rec := serve("/books/guide.pdf", u.Query())
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "%PDF-1.7", rec.Body.String())
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "guide.pdf")
	})

	t.Run("bound to one asset", func(t *testing.T) {
		rec := serve("/books/other.pdf", u.Query())
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("expired", func(t *testing.T) {
		signer.now = func() time.Time { return now.Add(2 * time.Hour) }
		defer func() { signer.now = func() time.Time { return now } }()
		rec := serve("/books/guide.pdf", u.Query())
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
