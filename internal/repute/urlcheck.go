package repute

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/theo7791l/wolaro-guard/internal/logging"
)

// URLChecker queries one or more external reputation services about a link.
// A nil verdict means inconclusive, never "confirmed safe".
type URLChecker struct {
	endpoints []string
	cache     *Cache
	client    *fasthttp.Client
	timeout   time.Duration

	// probe is swapped out by tests; production uses the HTTP lookup.
	probe func(endpoint, target string) *bool
}

const checkTimeout = 8 * time.Second

func NewURLChecker(endpoints []string, cache *Cache) *URLChecker {
	c := &URLChecker{
		endpoints: endpoints,
		cache:     cache,
		client:    newHTTPClient(),
		timeout:   checkTimeout,
	}
	c.probe = c.httpProbe
	return c
}

type reputationResponse struct {
	Malicious *bool `json:"malicious"`
}

func (c *URLChecker) httpProbe(endpoint, target string) *bool {
	var out reputationResponse
	if err := fetchJSON(c.client, lookupURL(endpoint, target), c.timeout, &out); err != nil {
		// External failure is recovered locally: the check is inconclusive.
		logging.Debug("Reputation lookup failed (%s): %v", endpoint, err)
		return nil
	}
	return out.Malicious
}

// Check fans out to every configured service concurrently and returns as
// soon as any source confirms the URL malicious. When every source answers
// without confirming, the merged verdict is cached and returned; sources
// that fail or time out count as inconclusive.
func (c *URLChecker) Check(ctx context.Context, target string) *bool {
	if len(c.endpoints) == 0 {
		return nil
	}
	if v, ok := c.cache.get(target); ok {
		return v.malicious
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	results := make(chan *bool, len(c.endpoints))
	for _, endpoint := range c.endpoints {
		go func(endpoint string) {
			results <- c.probe(endpoint, target)
		}(endpoint)
	}

	var merged *bool
	for pending := len(c.endpoints); pending > 0; pending-- {
		select {
		case r := <-results:
			if r != nil && *r {
				// First confirmed-malicious wins; don't wait for the rest.
				c.cache.put(target, verdict{malicious: r})
				return r
			}
			if r != nil {
				merged = r
			}
		case <-ctx.Done():
			// Slow sources never block the decision.
			c.cache.put(target, verdict{malicious: merged})
			return merged
		}
	}

	c.cache.put(target, verdict{malicious: merged})
	return merged
}
