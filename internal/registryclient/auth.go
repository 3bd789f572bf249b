package registryclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	ocierrors "github.com/giuseppe/atomic/pkg/errors"
)

// challengePattern extracts key="value" or key=value pairs from a
// WWW-Authenticate header, mirroring the source's (\w+)= *"?([^"]+)"? regex.
var challengePattern = regexp.MustCompile(`(\w+)= *"?([^",]+)"?`)

// doRequest performs a GET against url, transparently following a single
// 3xx redirect and handling a single Bearer challenge-response cycle. retry
// controls whether a 401 is allowed to trigger a token fetch and one retry;
// passing false (used internally after the first retry) makes a second 401
// surface as ErrRegistryAuthFailed.
func (c *Client) doRequest(ctx context.Context, method, url string, retry bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode/100 == 3:
		location := resp.Header.Get("Location")
		resp.Body.Close()
		if location == "" {
			return nil, fmt.Errorf("redirect response with no Location header")
		}
		// The redirect target may cross hosts and need no auth; fetch it
		// directly rather than resubmitting through doRequest.
		return c.http.Get(location)

	case resp.StatusCode == http.StatusUnauthorized:
		challenge := findBearerChallenge(resp.Header)
		resp.Body.Close()
		if !retry || challenge == "" {
			if !retry {
				return nil, ocierrors.ErrRegistryAuthFailed
			}
			return nil, fmt.Errorf("%w: no Bearer challenge in 401 response", ocierrors.ErrRegistryAuthFailed)
		}
		if err := c.requestToken(ctx, challenge); err != nil {
			return nil, fmt.Errorf("%w: %v", ocierrors.ErrRegistryAuthFailed, err)
		}
		return c.doRequest(ctx, method, url, false)
	}

	return resp, nil
}

// findBearerChallenge returns the raw WWW-Authenticate value if it
// advertises Bearer auth, checking the header name case-insensitively.
func findBearerChallenge(h http.Header) string {
	for name, values := range h {
		if !strings.EqualFold(name, "Www-Authenticate") {
			continue
		}
		for _, v := range values {
			if strings.Contains(v, "Bearer") {
				return v
			}
		}
	}
	return ""
}

// requestToken parses realm/service/scope out of a Bearer challenge, fetches
// realm?service=...&scope=..., and stores the returned token on the client.
func (c *Client) requestToken(ctx context.Context, challenge string) error {
	params := map[string]string{}
	for _, m := range challengePattern.FindAllStringSubmatch(challenge, -1) {
		params[m[1]] = m[2]
	}

	realm, ok := params["realm"]
	if !ok {
		return fmt.Errorf("challenge missing realm: %s", challenge)
	}

	url := fmt.Sprintf("%s?service=%s&scope=%s", realm, params["service"], params["scope"])
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("parse token response: %w", err)
	}
	if payload.Token == "" {
		return fmt.Errorf("token response missing token field")
	}

	c.token = payload.Token
	return nil
}
