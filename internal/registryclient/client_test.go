package registryclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync/atomic"
	"testing"

	"github.com/giuseppe/atomic/internal/logging"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	return New(u.Host, u.Scheme, srv.Client(), logging.NewNop())
}

func TestManifestSuccessAfterBearerChallenge(t *testing.T) {
	var tokenFetches int32
	var manifestAttempts int32

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenFetches, 1)
		json.NewEncoder(w).Encode(map[string]string{"token": "abc123"})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/v2/app/manifests/latest", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&manifestAttempts, 1)
		if n == 1 {
			challenge := fmt.Sprintf(`Bearer realm="%s/token",service="registry",scope="repository:app:pull"`, srv.URL)
			w.Header().Set("Www-Authenticate", challenge)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		auth := r.Header.Get("Authorization")
		if auth != "Bearer abc123" {
			t.Errorf("expected bearer token on retry, got %q", auth)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"layers":[{"digest":"sha256:aaa"}]}`))
	})

	c := newTestClient(t, srv)
	body, err := c.Manifest(context.Background(), "app", "latest")
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if string(body) == "" {
		t.Fatal("expected non-empty manifest body")
	}
	if atomic.LoadInt32(&tokenFetches) != 1 {
		t.Errorf("expected exactly one token fetch, got %d", tokenFetches)
	}
	if atomic.LoadInt32(&manifestAttempts) != 2 {
		t.Errorf("expected exactly two manifest attempts, got %d", manifestAttempts)
	}
}

func TestManifestSecondUnauthorizedFails(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var attempts int32
	mux.HandleFunc("/v2/app/manifests/latest", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		challenge := fmt.Sprintf(`Bearer realm="%s/token",service="registry",scope="repository:app:pull"`, srv.URL)
		w.Header().Set("Www-Authenticate", challenge)
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "abc123"})
	})

	c := newTestClient(t, srv)
	_, err := c.Manifest(context.Background(), "app", "latest")
	if err == nil {
		t.Fatal("expected an error on second 401")
	}
	if atomic.LoadInt32(&attempts) != 2 {
		t.Errorf("expected exactly two attempts (no third), got %d", attempts)
	}
}

func TestManifestNotFoundReturnsNilNil(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/app/manifests/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv)
	body, err := c.Manifest(context.Background(), "app", "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != nil {
		t.Errorf("expected nil body for 404, got %q", body)
	}
}

func TestFetchLayersBoundedConcurrency(t *testing.T) {
	var inFlight, maxInFlight int32

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/app/blobs/", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			old := atomic.LoadInt32(&maxInFlight)
			if n <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, n) {
				break
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("layer-data"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv)
	digests := []string{"sha256:aaa", "sha256:bbb", "sha256:ccc"}
	out, err := c.FetchLayers(context.Background(), "app", digests)
	if err != nil {
		t.Fatalf("FetchLayers: %v", err)
	}
	defer func() {
		for _, p := range out {
			os.Remove(p)
		}
	}()

	if len(out) != len(digests) {
		t.Fatalf("expected %d results, got %d", len(digests), len(out))
	}
	for _, d := range digests {
		if _, ok := out[d]; !ok {
			t.Errorf("missing result for digest %s", d)
		}
	}
	if atomic.LoadInt32(&maxInFlight) > MaxConcurrentFetches {
		t.Errorf("max in-flight %d exceeded bound %d", maxInFlight, MaxConcurrentFetches)
	}
}

func TestLayersParsesAllManifestShapes(t *testing.T) {
	fsLayers := []byte(`{"fsLayers":[{"blobSum":"sha256:bbb"},{"blobSum":"sha256:aaa"}]}`)
	got, err := Layers(fsLayers)
	if err != nil {
		t.Fatalf("Layers: %v", err)
	}
	if len(got) != 2 || got[0] != "sha256:aaa" || got[1] != "sha256:bbb" {
		t.Errorf("expected fsLayers reversed, got %v", got)
	}

	ociLayers := []byte(`{"layers":[{"digest":"sha256:aaa"},{"digest":"sha256:bbb"}]}`)
	got, err = Layers(ociLayers)
	if err != nil {
		t.Fatalf("Layers: %v", err)
	}
	if len(got) != 2 || got[0] != "sha256:aaa" || got[1] != "sha256:bbb" {
		t.Errorf("expected layers in order, got %v", got)
	}

	plain := []byte(`{"Layers":["sha256:aaa","sha256:bbb"]}`)
	got, err = Layers(plain)
	if err != nil {
		t.Fatalf("Layers: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 layers, got %v", got)
	}
}
