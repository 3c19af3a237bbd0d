package repute

import (
	"context"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/theo7791l/wolaro-guard/internal/logging"
)

// NSFWClassifier scores image URLs against an external classifier service.
// An unconfigured classifier is reported by Enabled, not by silent zeros.
type NSFWClassifier struct {
	endpoint string
	cache    *Cache
	client   *fasthttp.Client
	timeout  time.Duration

	score func(target string) (float64, error)
}

func NewNSFWClassifier(endpoint string, cache *Cache) *NSFWClassifier {
	c := &NSFWClassifier{
		endpoint: endpoint,
		cache:    cache,
		client:   newHTTPClient(),
		timeout:  checkTimeout,
	}
	c.score = c.httpScore
	return c
}

// Enabled reports whether a classifier endpoint is configured.
func (c *NSFWClassifier) Enabled() bool {
	return c.endpoint != ""
}

type classifierResponse struct {
	Score float64 `json:"score"`
}

func (c *NSFWClassifier) httpScore(target string) (float64, error) {
	var out classifierResponse
	if err := fetchJSON(c.client, lookupURL(c.endpoint, target), c.timeout, &out); err != nil {
		return 0, err
	}
	if out.Score < 0 || out.Score > 1 {
		return 0, fmt.Errorf("classifier score out of range: %f", out.Score)
	}
	return out.Score, nil
}

// Score returns the cached or freshly fetched NSFW score for an image URL.
// Classifier failure is inconclusive: the error is logged at debug level
// and the caller treats the image as unscored.
func (c *NSFWClassifier) Score(ctx context.Context, target string) (float64, bool) {
	if !c.Enabled() {
		return 0, false
	}
	if v, ok := c.cache.get(target); ok {
		return v.score, true
	}

	done := make(chan struct{})
	var score float64
	var err error
	go func() {
		score, err = c.score(target)
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logging.Debug("NSFW classification timed out for %s", target)
		return 0, false
	}

	if err != nil {
		logging.Debug("NSFW classification failed for %s: %v", target, err)
		return 0, false
	}

	c.cache.put(target, verdict{score: score})
	return score, true
}
