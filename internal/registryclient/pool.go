package registryclient

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// MaxConcurrentFetches bounds the Registry Client's blob fetch pool,
// pinned globally at 3, not per-host.
const MaxConcurrentFetches = 3

// FetchLayers downloads each of digests for image into its own temporary
// file, bounded to MaxConcurrentFetches in-flight requests. Each worker
// uses a fresh *Client (sharing the parent's http.Client and token) and
// its own temp file; there is no shared mutable state beyond the result
// map, assembled after every worker completes. The returned map is keyed
// by digest; callers must not rely on completion order.
//
// On any worker failure, the temp files of every digest, failed or
// succeeded, are removed and the first error encountered is returned with
// a nil map.
func (c *Client) FetchLayers(ctx context.Context, image string, digests []string) (map[string]string, error) {
	type result struct {
		digest string
		path   string
		err    error
	}

	sem := make(chan struct{}, MaxConcurrentFetches)
	results := make(chan result, len(digests))
	var wg sync.WaitGroup

	for _, digest := range digests {
		wg.Add(1)
		go func(digest string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			worker := New(c.registry, c.scheme, c.http, c.log)
			worker.token = c.token

			f, err := os.CreateTemp("", "atomic-layer-*.tmp")
			if err != nil {
				results <- result{digest: digest, err: fmt.Errorf("create temp file: %w", err)}
				return
			}
			path := f.Name()
			f.Close()

			if err := worker.FetchLayer(ctx, image, digest, path); err != nil {
				os.Remove(path)
				results <- result{digest: digest, err: err}
				return
			}
			results <- result{digest: digest, path: path}
		}(digest)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(map[string]string, len(digests))
	var firstErr error
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		out[r.digest] = r.path
	}

	if firstErr != nil {
		for _, path := range out {
			os.Remove(path)
		}
		return nil, firstErr
	}

	return out, nil
}
