package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/reglet-dev/extrunner"
	"github.com/reglet-dev/extrunner/domain/entities"
	"github.com/reglet-dev/extrunner/domain/errors"
	"github.com/reglet-dev/extrunner/domain/ports"
)

const (
	// DefaultCDNURL serves package files.
	DefaultCDNURL = "https://cdn.jsdelivr.net"
	// DefaultGitHubComponentURL serves visual components of GitHub packages.
	DefaultGitHubComponentURL = "https://raw.githack.com"
	// DefaultNPMComponentURL serves visual components of npm packages.
	DefaultNPMComponentURL = "https://unpkg.com"
)

type cdnConfig struct {
	client          *http.Client
	cdnURL          string
	githubComponent string
	npmComponent    string
	timeout         time.Duration
	maxBodySize     int64
}

func defaultCDNConfig() cdnConfig {
	return cdnConfig{
		cdnURL:          DefaultCDNURL,
		githubComponent: DefaultGitHubComponentURL,
		npmComponent:    DefaultNPMComponentURL,
		timeout:         30 * time.Second,
		maxBodySize:     10 * 1024 * 1024, // 10MB
	}
}

// Option configures a CDN loader.
type Option func(*cdnConfig)

// WithCDNURL sets the base URL package files are served from.
func WithCDNURL(url string) Option {
	return func(c *cdnConfig) {
		if url != "" {
			c.cdnURL = strings.TrimRight(url, "/")
		}
	}
}

// WithComponentURLs sets the hosts serving visual components.
func WithComponentURLs(github, npm string) Option {
	return func(c *cdnConfig) {
		if github != "" {
			c.githubComponent = strings.TrimRight(github, "/")
		}
		if npm != "" {
			c.npmComponent = strings.TrimRight(npm, "/")
		}
	}
}

// WithHTTPClient sets the client used for fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(c *cdnConfig) {
		c.client = client
	}
}

// WithTimeout bounds each fetch.
func WithTimeout(d time.Duration) Option {
	return func(c *cdnConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxBodySize caps the size of a fetched file.
func WithMaxBodySize(size int64) Option {
	return func(c *cdnConfig) {
		if size > 0 {
			c.maxBodySize = size
		}
	}
}

// CDN implements ports.CodeLoader and ports.ComponentResolver over HTTP.
type CDN struct {
	client *http.Client
	cfg    cdnConfig
}

var (
	_ ports.CodeLoader        = (*CDN)(nil)
	_ ports.ComponentResolver = (*CDN)(nil)
)

// NewCDN creates a CDN loader.
func NewCDN(opts ...Option) *CDN {
	cfg := defaultCDNConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}
	return &CDN{client: client, cfg: cfg}
}

// Resolve returns the jsDelivr URL of path. GitHub names must be
// "owner/repo".
func (l *CDN) Resolve(ref entities.ModuleRef, path string) (string, error) {
	var base string
	switch ref.Type {
	case entities.OriginGitHub:
		owner, repo, err := splitRepo(ref.Name)
		if err != nil {
			return "", err
		}
		base = fmt.Sprintf("%s/gh/%s/%s@%s/", l.cfg.cdnURL, owner, repo, ref.Version)
	case entities.OriginNPM:
		base = fmt.Sprintf("%s/npm/%s@%s/", l.cfg.cdnURL, ref.Name, ref.Version)
	default:
		return "", fmt.Errorf("invalid type %q ('npm' or 'github' expected)", ref.Type)
	}
	return base + extrunner.RelPath(path), nil
}

// ResolveComponent returns the URL a visual component at path is loaded from.
func (l *CDN) ResolveComponent(ref entities.ModuleRef, path string) (string, error) {
	path = extrunner.RelPath(path)
	switch ref.Type {
	case entities.OriginGitHub:
		owner, repo, err := splitRepo(ref.Name)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s/%s/%s/%s/%s", l.cfg.githubComponent, owner, repo, ref.Version, path), nil
	case entities.OriginNPM:
		return fmt.Sprintf("%s/%s@%s/%s", l.cfg.npmComponent, ref.Name, ref.Version, path), nil
	default:
		return "", fmt.Errorf("invalid type %q ('npm' or 'github' expected)", ref.Type)
	}
}

// FetchContent GETs url. A non-2xx answer fails with *errors.LoadError
// holding the response; its body is already consumed.
func (l *CDN) FetchContent(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, &errors.LoadError{URL: url, Err: err}
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, &errors.LoadError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, l.cfg.maxBodySize))
		return nil, &errors.LoadError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Response:   resp,
			Err:        fmt.Errorf("%s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.cfg.maxBodySize+1))
	if err != nil {
		return nil, &errors.LoadError{URL: url, Err: err}
	}
	if int64(len(body)) > l.cfg.maxBodySize {
		return nil, &errors.LoadError{URL: url, Err: fmt.Errorf("file exceeds %d bytes", l.cfg.maxBodySize)}
	}
	return body, nil
}

func splitRepo(name string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(name, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid github package name %q (expected owner/repo)", name)
	}
	return owner, repo, nil
}
