package sourceio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/cexll/docx-session-engine/pkg/docxerr"
)

// HTTPSourceConfig addresses a document served by a plain document-store
// HTTP API secured by OAuth2 client-credentials, the access pattern for
// managed document services that sit in front of their own storage rather
// than exposing S3 directly.
type HTTPSourceConfig struct {
	DocumentURL  string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// HTTPSource is a Source backed by an OAuth2-secured HTTP document API. It
// cannot be watched: like S3Source, change detection is poll-only via
// Fingerprint (the response's ETag header).
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource builds an HTTPSource whose requests carry a bearer token
// obtained and refreshed automatically via the client-credentials grant.
func NewHTTPSource(ctx context.Context, cfg HTTPSourceConfig) *HTTPSource {
	oauthCfg := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return &HTTPSource{url: cfg.DocumentURL, client: oauthCfg.Client(ctx)}
}

func (s *HTTPSource) Read(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, docxerr.Wrap(docxerr.StorageError, "build source request", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, docxerr.Wrap(docxerr.StorageError, "fetch source document", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, docxerr.New(docxerr.NotFound, "source document not found: "+s.url)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, docxerr.New(docxerr.StorageError, fmt.Sprintf("source document fetch failed: %s", resp.Status))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, docxerr.Wrap(docxerr.StorageError, "read source document body", err)
	}
	return data, nil
}

func (s *HTTPSource) Write(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.url, bytes.NewReader(data))
	if err != nil {
		return docxerr.Wrap(docxerr.StorageError, "build source write request", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return docxerr.Wrap(docxerr.StorageError, "write source document", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return docxerr.New(docxerr.StorageError, fmt.Sprintf("source document write failed: %s", resp.Status))
	}
	return nil
}

func (s *HTTPSource) Fingerprint(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		return "", docxerr.Wrap(docxerr.StorageError, "build source head request", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", docxerr.Wrap(docxerr.StorageError, "head source document", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", docxerr.New(docxerr.NotFound, "source document not found: "+s.url)
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		return etag, nil
	}
	return resp.Header.Get("Last-Modified"), nil
}

func (s *HTTPSource) Watch(context.Context, func()) (func() error, error) {
	return nil, ErrUnsupportedWatch
}
