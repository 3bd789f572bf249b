// Package registryclient speaks the Docker/OCI distribution v2 HTTPS
// protocol directly: manifest and blob fetch, bearer-token challenge
// response, redirect following, and bounded-concurrency blob download.
//
// This is the Image Importer's fallback path, used when the preferred
// single-step external copy (internal/importer's crane-based path) is
// unavailable or the caller wants to diff against already-present layers
// before fetching. It is kept hand-rolled rather than delegated to
// go-containerregistry's own transport so the auth-challenge parsing and
// fan-out pool remain explicit and testable against a plain httptest
// server.
package registryclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"go.uber.org/zap"

	ocierrors "github.com/giuseppe/atomic/pkg/errors"
)

// Client talks to a single registry host.
type Client struct {
	registry string
	scheme   string
	http     *http.Client
	log      *zap.SugaredLogger

	token string
}

// New returns a Client bound to the given registry host (e.g.
// "registry-1.docker.io" or "example.com:5000"). scheme defaults to
// "https" when empty.
func New(registryHost, scheme string, httpClient *http.Client, log *zap.SugaredLogger) *Client {
	if scheme == "" {
		scheme = "https"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{registry: registryHost, scheme: scheme, http: httpClient, log: log}
}

// Ping issues GET /v2/, the base endpoint every v2 registry must serve,
// used to fail fast with ErrRegistryNetwork before a pull is attempted.
func (c *Client) Ping(ctx context.Context) error {
	url := fmt.Sprintf("%s://%s/v2/", c.scheme, c.registry)
	resp, err := c.doRequest(ctx, http.MethodGet, url, true)
	if err != nil {
		return fmt.Errorf("%w: %w", ocierrors.ErrRegistryNetwork, err)
	}
	defer resp.Body.Close()
	return nil
}

// Manifest fetches the manifest for image:tag. It returns (nil, nil) on a
// non-200 that isn't an error (the registry simply has no such tag),
// mirroring the source's "manifest() -> bytes|None".
func (c *Client) Manifest(ctx context.Context, image, tag string) ([]byte, error) {
	url := fmt.Sprintf("%s://%s/v2/%s/manifests/%s", c.scheme, c.registry, image, tag)
	resp, err := c.doRequest(ctx, http.MethodGet, url, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ocierrors.ErrRegistryNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest body: %v", ocierrors.ErrRegistryNetwork, err)
	}
	return body, nil
}

// FetchLayer streams blob digest of image to path, overwriting it.
func (c *Client) FetchLayer(ctx context.Context, image, digest, path string) error {
	url := fmt.Sprintf("%s://%s/v2/%s/blobs/%s", c.scheme, c.registry, image, digest)
	resp, err := c.doRequest(ctx, http.MethodGet, url, true)
	if err != nil {
		return fmt.Errorf("%w: %w", ocierrors.ErrRegistryNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: fetch blob %s: status %d", ocierrors.ErrRegistryNetwork, digest, resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create blob destination %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("%w: write blob %s: %v", ocierrors.ErrRegistryNetwork, digest, err)
	}
	return nil
}
