// Package http provides a read-only HTTP backend for rfs.
//
// Any "http://" or "https://" URL that answers HEAD and range GET
// requests can be opened as an object. The host is the locator and the
// URL path is the key. There is no listing, writing or deletion.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JGoutin/rfs"
)

func init() {
	for _, scheme := range []string{"http", "https"} {
		rfs.RegisterScheme(scheme, func(settings map[string]string) (*rfs.System, error) {
			cfg := ConfigFromMap(settings)
			if _, ok := settings["scheme"]; !ok {
				cfg.Scheme = scheme
			}
			return NewSystem(cfg)
		})
	}
}

// Config holds configuration for the HTTP backend.
type Config struct {
	// Scheme is the URL scheme used to rebuild request URLs, "http" or
	// "https". Default: "https".
	Scheme string

	// Timeout is the per-request timeout in seconds. Default: 30.
	Timeout int

	// Headers are sent with every request, e.g. an Authorization header.
	Headers map[string]string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Scheme:  "https",
		Timeout: 30,
	}
}

// ConfigFromMap creates a Config from a string map.
// Supported keys:
//   - scheme: "http" or "https" (default: "https")
//   - timeout: per-request timeout in seconds
//   - header_<name>: extra request header, e.g. header_authorization
func ConfigFromMap(m map[string]string) Config {
	config := DefaultConfig()

	if v, ok := m["scheme"]; ok && (v == "http" || v == "https") {
		config.Scheme = v
	}
	if v, ok := m["timeout"]; ok {
		var t int
		if _, err := fmt.Sscanf(v, "%d", &t); err == nil && t > 0 {
			config.Timeout = t
		}
	}
	for k, v := range m {
		if name, ok := strings.CutPrefix(k, "header_"); ok && name != "" {
			if config.Headers == nil {
				config.Headers = make(map[string]string)
			}
			config.Headers[name] = v
		}
	}

	return config
}

// Backend implements the read-only subset of rfs.Client over HTTP.
type Backend struct {
	rfs.UnsupportedOps

	client *http.Client
	config Config
}

var _ rfs.Client = (*Backend)(nil)

// New creates a new HTTP backend.
func New(cfg Config) *Backend {
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30
	}
	return &Backend{
		client: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		config: cfg,
	}
}

// Spec describes the HTTP namespace. Every capability is off: a URL can
// only be headed and read.
func Spec(cfg Config) rfs.Spec {
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return rfs.Spec{
		Scheme: scheme,
		Roots: []rfs.Root{
			{Prefix: "http://"},
			{Prefix: "https://"},
		},
		SizeKeys:  []string{"Content-Length"},
		MTimeKeys: []string{"Last-Modified"},
	}
}

// NewSystem builds an rfs.System over an HTTP backend.
func NewSystem(cfg Config, opts ...rfs.Option) (*rfs.System, error) {
	b := New(cfg)
	return rfs.NewSystem(Spec(b.config), func() (rfs.Client, error) { return b, nil }, opts...)
}

// url rebuilds the request URL from backend addressing. The scheme was
// stripped with the root, so the configured one is used.
func (b *Backend) url(addr rfs.Addressing) string {
	u := b.config.Scheme + "://" + addr.Locator
	if addr.Key != "" {
		u += "/" + addr.Key
	}
	return u
}

func (b *Backend) do(ctx context.Context, method, url string, header map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	for k, v := range b.config.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	return resp, nil
}

// translateStatus maps HTTP status codes to rfs errors.
func translateStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusForbidden:
		return rfs.ErrPermissionDenied
	case resp.StatusCode == http.StatusNotFound:
		return rfs.ErrNotFound
	default:
		return fmt.Errorf("http: %s", resp.Status)
	}
}

// HeadObject returns the response headers of a HEAD request.
func (b *Backend) HeadObject(ctx context.Context, addr rfs.Addressing) (rfs.Header, error) {
	resp, err := b.do(ctx, http.MethodHead, b.url(addr), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := translateStatus(resp); err != nil {
		return nil, err
	}

	header := rfs.Header{}
	for k := range resp.Header {
		header[k] = resp.Header.Get(k)
	}
	return header, nil
}

// GetRange reads [start, end) of a URL with a range GET. A 416 response
// means the range starts past the end of the content.
func (b *Backend) GetRange(ctx context.Context, addr rfs.Addressing, start, end int64) ([]byte, error) {
	var rangeHeader string
	if end > 0 {
		rangeHeader = fmt.Sprintf("bytes=%d-%d", start, end-1)
	} else {
		rangeHeader = fmt.Sprintf("bytes=%d-", start)
	}

	resp, err := b.do(ctx, http.MethodGet, b.url(addr), map[string]string{"Range": rangeHeader})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		return nil, nil
	}
	if err := translateStatus(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("http: reading response body: %w", err)
	}
	return data, nil
}

// GetAll reads a whole URL with a single unranged GET.
func (b *Backend) GetAll(ctx context.Context, addr rfs.Addressing) ([]byte, error) {
	resp, err := b.do(ctx, http.MethodGet, b.url(addr), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := translateStatus(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("http: reading response body: %w", err)
	}
	return data, nil
}
