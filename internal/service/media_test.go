package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
)

func TestMediaFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/doc.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.4 test"))
		case "/sniff":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte("<html><body>hi</body></html>"))
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("a", 2048)))
		case "/empty":
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewMediaFetcher(0, 1024)
	ctx := context.Background()

	media, err := f.Fetch(ctx, srv.URL+"/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", media.Mimetype)
	assert.Equal(t, "doc.pdf", media.FileName)

	media, err = f.Fetch(ctx, srv.URL+"/sniff")
	require.NoError(t, err)
	assert.Equal(t, "text/html", media.Mimetype)

	_, err = f.Fetch(ctx, srv.URL+"/big")
	assert.Error(t, err)

	_, err = f.Fetch(ctx, srv.URL+"/empty")
	assert.Error(t, err)

	_, err = f.Fetch(ctx, srv.URL+"/nope")
	assert.Error(t, err)

	for _, bad := range []string{"", "ftp://example.com/a.png", "file:///etc/passwd", "http://"} {
		_, err = f.Fetch(ctx, bad)
		assert.Error(t, err, bad)
	}
}

func TestMediaTypeFor(t *testing.T) {
	assert.Equal(t, whatsmeow.MediaImage, mediaTypeFor("image/jpeg"))
	assert.Equal(t, whatsmeow.MediaVideo, mediaTypeFor("video/mp4"))
	assert.Equal(t, whatsmeow.MediaAudio, mediaTypeFor("audio/ogg"))
	assert.Equal(t, whatsmeow.MediaDocument, mediaTypeFor("application/pdf"))
}
