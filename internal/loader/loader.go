// Package loader resolves document URIs (local paths, s3:// objects, http(s) URLs) to plain text.
package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// MaxDocumentBytes caps how much of a remote document is read.
const MaxDocumentBytes = 64 << 20

// Loaded is the text resolved from one URI.
type Loaded struct {
	URI   string
	Title string
	Text  string
}

// Loader fetches and decodes documents.
type Loader struct {
	s3     ObjectGetter
	client *http.Client
	logger *zap.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithS3 enables s3:// URIs through client.
func WithS3(client ObjectGetter) Option {
	return func(l *Loader) { l.s3 = client }
}

// WithHTTPClient replaces the client used for http(s) URIs.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) { l.client = c }
}

// WithLogger sets the loader logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// New returns a Loader. Without WithS3, s3:// URIs fail.
func New(opts ...Option) *Loader {
	l := &Loader{client: http.DefaultClient}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads uri and extracts its text. The title is the base name without extension.
func (l *Loader) Load(ctx context.Context, uri string) (*Loaded, error) {
	var (
		content []byte
		name    string
		err     error
	)
	switch {
	case strings.HasPrefix(uri, "s3://"):
		content, name, err = l.loadS3(ctx, uri)
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		content, name, err = l.loadHTTP(ctx, uri)
	default:
		p := strings.TrimPrefix(uri, "file://")
		name = filepath.Base(p)
		content, err = os.ReadFile(p)
		if err != nil {
			err = fmt.Errorf("read file: %w", err)
		}
	}
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(path.Ext(name))
	text, err := ExtractBytes(content, ext)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", uri, err)
	}
	if l.logger != nil {
		l.logger.Debug("loaded document", zap.String("uri", uri), zap.Int("bytes", len(content)))
	}
	return &Loaded{URI: uri, Title: titleOf(name), Text: text}, nil
}

func (l *Loader) loadHTTP(ctx context.Context, uri string) ([]byte, string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, "", fmt.Errorf("parse url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", uri, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: unexpected status %d", uri, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxDocumentBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = u.Host
	}
	return body, name, nil
}

func titleOf(name string) string {
	title := strings.TrimSuffix(name, path.Ext(name))
	if title == "" {
		return name
	}
	return title
}

// ExtensionAllowed reports whether path has one of extensions, compared case-insensitively
// with or without the leading dot. An empty list allows everything.
func ExtensionAllowed(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}
