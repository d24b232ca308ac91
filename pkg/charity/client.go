package charity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/charity-cli/internal/resilience"
)

// DefaultBaseURL is the public register API.
const DefaultBaseURL = "https://api.charitycommission.gov.uk/register/api"

const userAgent = "charity-cli/1.0"

// Option configures the register client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound requests per second. A zero rate disables
// limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *httpClient) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithBreaker guards every request with b. Pass nil to disable.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *httpClient) {
		c.breaker = b
	}
}

// WithTimeout bounds a single request attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.timeout = d
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
	timeout time.Duration
}

// NewClient creates a register API client.
func NewClient(apiKey string, opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("charity_commission", "get")

	breakerCfg := resilience.DefaultBreakerConfig()
	breakerCfg.IsFailure = resilience.IsTransient

	c := &httpClient{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		breaker: resilience.NewBreaker("charity_commission", breakerCfg),
		retry:   retry,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get fetches path and returns the body. found is false on 404.
func (c *httpClient) get(ctx context.Context, path string, query url.Values) (body []byte, found bool, err error) {
	type result struct {
		body  []byte
		found bool
	}
	res, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (result, error) {
		return resilience.Call(ctx, c.breaker, func(ctx context.Context) (result, error) {
			b, ok, err := c.do(ctx, path, query)
			return result{body: b, found: ok}, err
		})
	})
	if err != nil {
		return nil, false, err
	}
	return res.body, res.found, nil
}

func (c *httpClient) do(ctx context.Context, path string, query url.Values) ([]byte, bool, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, false, eris.Wrap(err, "charity: rate limit wait")
		}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, eris.Wrap(err, "charity: create request")
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		wrapped := eris.Wrapf(err, "charity: GET %s", path)
		if resilience.IsTransient(err) {
			return nil, false, resilience.NewTransientError(wrapped, 0)
		}
		return nil, false, wrapped
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, eris.Wrap(err, "charity: read response body")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, nil
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, false, resilience.NewTransientError(
			eris.Errorf("charity: GET %s: status %d", path, resp.StatusCode), resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, false, eris.Errorf("charity: GET %s: status %d: %s", path, resp.StatusCode, truncate(body, 200))
	}
	return body, true, nil
}

func (c *httpClient) Search(ctx context.Context, name string, pageSize int) ([]Charity, error) {
	if pageSize <= 0 {
		pageSize = 10
	}
	q := url.Values{}
	q.Set("searchText", name)
	q.Set("page", "1")
	q.Set("pageSize", strconv.Itoa(pageSize))

	body, found, err := c.get(ctx, "/allcharities", q)
	if err != nil {
		return nil, eris.Wrap(err, "charity: search")
	}
	if !found {
		return nil, nil
	}
	results, err := decodeSearch(body)
	if err != nil {
		return nil, err
	}
	if len(results) > pageSize {
		results = results[:pageSize]
	}
	return results, nil
}

// decodeSearch accepts either {"charities": [...]} or a bare array.
func decodeSearch(body []byte) ([]Charity, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] == '[' {
		var out []Charity
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, eris.Wrap(err, "charity: decode search results")
		}
		return out, nil
	}
	var env struct {
		Charities []Charity `json:"charities"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrap(err, "charity: decode search results")
	}
	return env.Charities, nil
}

func (c *httpClient) GetByNumber(ctx context.Context, number string) (*Charity, error) {
	body, found, err := c.get(ctx, "/charities/"+url.PathEscape(NormalizeNumber(number)), nil)
	if err != nil {
		return nil, eris.Wrapf(err, "charity: get %s", number)
	}
	if !found {
		return nil, nil
	}
	var ch Charity
	if err := json.Unmarshal(body, &ch); err != nil {
		return nil, eris.Wrapf(err, "charity: decode charity %s", number)
	}
	return &ch, nil
}

func (c *httpClient) GetTrustees(ctx context.Context, number string) ([]Trustee, error) {
	var out []Trustee
	if err := c.getList(ctx, number, "trustees", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *httpClient) GetAccounts(ctx context.Context, number string) ([]Account, error) {
	var out []Account
	if err := c.getList(ctx, number, "accounts", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *httpClient) GetSubsidiaries(ctx context.Context, number string) ([]Subsidiary, error) {
	var out []Subsidiary
	if err := c.getList(ctx, number, "subsidiaries", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// getList fetches a sub-resource. A 404 leaves out empty.
func (c *httpClient) getList(ctx context.Context, number, resource string, out any) error {
	path := "/charities/" + url.PathEscape(NormalizeNumber(number)) + "/" + resource
	body, found, err := c.get(ctx, path, nil)
	if err != nil {
		return eris.Wrapf(err, "charity: get %s for %s", resource, number)
	}
	if !found || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "charity: decode %s for %s", resource, number)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
