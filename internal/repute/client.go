package repute

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"
)

// newHTTPClient builds the pooled fasthttp client shared by the reputation
// and classifier lookups. Timeouts are generous relative to the hot path
// because callers never block local decisions on these calls.
func newHTTPClient() *fasthttp.Client {
	return &fasthttp.Client{
		MaxConnsPerHost:     256,
		MaxIdleConnDuration: 90 * time.Second,
		ReadTimeout:         8 * time.Second,
		WriteTimeout:        8 * time.Second,
		MaxResponseBodySize: 1 << 20,
		TLSConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			ClientSessionCache: tls.NewLRUClientSessionCache(64),
		},
	}
}

func lookupURL(endpoint, target string) string {
	return fmt.Sprintf("%s?url=%s", endpoint, url.QueryEscape(target))
}

// fetchJSON performs one bounded GET and decodes the body into out.
func fetchJSON(client *fasthttp.Client, requestURL string, timeout time.Duration, out interface{}) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(requestURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	if err := client.DoTimeout(req, resp, timeout); err != nil {
		return err
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("lookup returned status %d", code)
	}
	return json.Unmarshal(resp.Body(), out)
}
