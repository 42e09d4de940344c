package attom

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/yourorg/comps-api/internal/logger"
)

const (
	defaultBaseURL = "https://api.gateway.attomdata.com" // ATTOM gateway
	propertyAPI    = "/propertyapi/v1.0.0"
	maxPayload     = 4 << 20 // 4MB guard
)

type Client struct {
	key     string
	baseURL string
	http    *retryablehttp.Client
	limiter *rate.Limiter
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithRetryMax(n int) Option {
	return func(c *Client) { c.http.RetryMax = n }
}

// WithRetryWait sets the backoff bounds between attempts.
func WithRetryWait(lo, hi time.Duration) Option {
	return func(c *Client) {
		c.http.RetryWaitMin = lo
		c.http.RetryWaitMax = hi
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.HTTPClient.Timeout = d
		}
	}
}

// WithRateLimit caps outbound requests per second. rps <= 0 disables the limiter.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func NewClient(apiKey string, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 900 * time.Millisecond
	rc.RetryMax = 3
	rc.HTTPClient.Timeout = 6 * time.Second
	rc.Logger = logger.Retry{L: log.Logger.With().Str("component", "attom").Logger()}
	// Hand the last response back so status codes can be classified.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		key:     apiKey,
		baseURL: defaultBaseURL,
		http:    rc,
		limiter: rate.NewLimiter(rate.Limit(8), 4),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BasicProfile looks up a property by street line and "city, ST zip" line.
// Docs: GET /propertyapi/v1.0.0/property/basicprofile
func (c *Client) BasicProfile(ctx context.Context, address1, address2 string) ([]byte, error) {
	return c.get(ctx, "/property/basicprofile", addressQuery(address1, address2))
}

// AVMDetail returns the property profile plus ATTOM's automated valuation.
// Docs: GET /propertyapi/v1.0.0/attomavm/detail
func (c *Client) AVMDetail(ctx context.Context, address1, address2 string) ([]byte, error) {
	return c.get(ctx, "/attomavm/detail", addressQuery(address1, address2))
}

// AssessmentDetail returns the tax assessment for a property.
// Docs: GET /propertyapi/v1.0.0/assessment/detail
func (c *Client) AssessmentDetail(ctx context.Context, address1, address2 string) ([]byte, error) {
	return c.get(ctx, "/assessment/detail", addressQuery(address1, address2))
}

// AssessmentHistory returns every recorded assessment year of a property.
// Docs: GET /propertyapi/v1.0.0/assessmenthistory/detail
func (c *Client) AssessmentHistory(ctx context.Context, address1, address2 string) ([]byte, error) {
	return c.get(ctx, "/assessmenthistory/detail", addressQuery(address1, address2))
}

// AllEvents returns the property profile with its latest sale, assessment
// and valuation events.
// Docs: GET /propertyapi/v1.0.0/allevents/snapshot
func (c *Client) AllEvents(ctx context.Context, address1, address2 string) ([]byte, error) {
	return c.get(ctx, "/allevents/snapshot", addressQuery(address1, address2))
}

// AVMDetailByID is AVMDetail keyed by ATTOM property id.
func (c *Client) AVMDetailByID(ctx context.Context, attomID string) ([]byte, error) {
	return c.get(ctx, "/attomavm/detail", idQuery(attomID))
}

// BasicProfileByID is BasicProfile keyed by ATTOM property id.
func (c *Client) BasicProfileByID(ctx context.Context, attomID string) ([]byte, error) {
	return c.get(ctx, "/property/basicprofile", idQuery(attomID))
}

// PropertySnapshot lists properties within a radius of a point.
// Docs: GET /propertyapi/v1.0.0/property/snapshot
func (c *Client) PropertySnapshot(ctx context.Context, rq RadiusQuery) ([]byte, error) {
	return c.get(ctx, "/property/snapshot", radiusValues(rq))
}

// SaleSnapshot lists recorded sales within a radius of a point, optionally
// bounded by sale date and amount.
// Docs: GET /propertyapi/v1.0.0/sale/snapshot
func (c *Client) SaleSnapshot(ctx context.Context, rq RadiusQuery) ([]byte, error) {
	q := radiusValues(rq)
	if rq.StartSaleDate != nil {
		q.Set("startsalesearchdate", rq.StartSaleDate.Format("2006/01/02"))
	}
	if rq.MinSaleAmount > 0 {
		q.Set("minsaleamt", fmt.Sprintf("%.0f", rq.MinSaleAmount))
	}
	if rq.MaxSaleAmount > 0 {
		q.Set("maxsaleamt", fmt.Sprintf("%.0f", rq.MaxSaleAmount))
	}
	return c.get(ctx, "/sale/snapshot", q)
}

func addressQuery(address1, address2 string) url.Values {
	q := url.Values{}
	q.Set("address1", address1)
	q.Set("address2", address2)
	return q
}

func idQuery(attomID string) url.Values {
	q := url.Values{}
	q.Set("attomid", attomID)
	return q
}

func radiusValues(rq RadiusQuery) url.Values {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.6f", rq.Latitude))
	q.Set("longitude", fmt.Sprintf("%.6f", rq.Longitude))
	q.Set("radius", fmt.Sprintf("%.2f", rq.RadiusMiles))
	q.Set("page", "1")
	if rq.PageSize > 0 {
		q.Set("pagesize", fmt.Sprintf("%d", rq.PageSize))
	}
	return q
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	u := fmt.Sprintf("%s%s%s?%s", c.baseURL, propertyAPI, path, q.Encode())
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("apikey", c.key)

	resp, err := c.http.Do(req)
	if resp == nil {
		if err == nil {
			err = fmt.Errorf("attom %s: empty response", path)
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, readErr := ioReadAllLimit(resp.Body, maxPayload)
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode >= 400 {
		return nil, classify(path, resp.StatusCode, body)
	}
	if st, ok := peekStatus(body); ok && isEmptyResult(st) {
		return nil, ErrNotFound
	}
	return body, nil
}

func classify(path string, code int, body []byte) error {
	st, _ := peekStatus(body)
	msg := strings.ToLower(st.Msg)
	switch {
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusNotFound, isEmptyResult(st):
		return ErrNotFound
	case (code == http.StatusForbidden || code == http.StatusUnauthorized) &&
		(strings.Contains(msg, "limit") || strings.Contains(msg, "quota")):
		return ErrDailyLimitExceeded
	}
	return &StatusError{Path: path, Code: code, Msg: st.Msg}
}

func peekStatus(body []byte) (Status, bool) {
	var root struct {
		Status *Status `json:"status"`
	}
	if err := json.Unmarshal(body, &root); err != nil || root.Status == nil {
		return Status{}, false
	}
	return *root.Status, true
}

func isEmptyResult(st Status) bool {
	return strings.EqualFold(st.Msg, "SuccessWithoutResult")
}

func ioReadAllLimit(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, ErrPayloadTooLarge
	}
	return b, nil
}
