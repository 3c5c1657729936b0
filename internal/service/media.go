package service

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultMediaMaxBytes = 16 << 20
	defaultMediaTimeout  = 30 * time.Second
)

// FetchedMedia is a downloaded attachment ready to upload.
type FetchedMedia struct {
	Data     []byte
	Mimetype string
	FileName string
}

// MediaFetcher downloads media referenced by URL before it is sent.
type MediaFetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewMediaFetcher(timeout time.Duration, maxBytes int64) *MediaFetcher {
	if timeout <= 0 {
		timeout = defaultMediaTimeout
	}
	if maxBytes <= 0 {
		maxBytes = defaultMediaMaxBytes
	}
	return &MediaFetcher{client: &http.Client{Timeout: timeout}, maxBytes: maxBytes}
}

func (f *MediaFetcher) Fetch(ctx context.Context, mediaURL string) (*FetchedMedia, error) {
	u, err := url.Parse(strings.TrimSpace(mediaURL))
	if err != nil {
		return nil, errors.Wrap(err, "parse media url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("unsupported media url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("media url has no host")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build media request")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "download media")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("media server answered %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, errors.Errorf("media is %d bytes, limit is %d", resp.ContentLength, f.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "read media")
	}
	if int64(len(data)) > f.maxBytes {
		return nil, errors.Errorf("media exceeds %d bytes", f.maxBytes)
	}
	if len(data) == 0 {
		return nil, errors.New("media is empty")
	}

	return &FetchedMedia{
		Data:     data,
		Mimetype: detectMimetype(resp.Header.Get("Content-Type"), data),
		FileName: mediaFileName(u),
	}, nil
}

func detectMimetype(header string, data []byte) string {
	if header != "" {
		if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}

func mediaFileName(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return fmt.Sprintf("media-%d", time.Now().Unix())
	}
	return name
}
