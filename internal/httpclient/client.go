package httpclient

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vitaliisemenov/tr2qase/internal/ratelimit"
	"github.com/vitaliisemenov/tr2qase/internal/resilience"
)

// BaseClient wraps a resty client with the rate-limited, retried request
// method both typed clients build on. One BaseClient per remote system.
type BaseClient struct {
	rc      *resty.Client
	limiter *ratelimit.Limiter
	policy  resilience.RetryPolicy
	logger  *slog.Logger
}

// NewBaseClient builds a BaseClient against baseURL, mirroring the tuned
// transport settings of the teacher's NewWebhookHTTPClient (TLS 1.2+,
// bounded idle connections, HTTP/2) via resty's SetTransport, and applying
// requestsPerMinute (0 disables) through the shared ratelimit.Limiter.
func NewBaseClient(baseURL string, timeout time.Duration, requestsPerMinute int, logger *slog.Logger) *BaseClient {
	transport := &http.Transport{
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: time.Second,
	}

	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetTransport(transport).
		SetHeader("User-Agent", "tr2qase-migrator/1.0")

	return &BaseClient{
		rc:      rc,
		limiter: ratelimit.New(requestsPerMinute),
		policy:  resilience.DefaultRetryPolicy(),
		logger:  logger,
	}
}

// Resty exposes the underlying client for typed wrappers that need to set
// auth headers directly (basic auth, bearer tokens, cookie jars).
func (c *BaseClient) Resty() *resty.Client { return c.rc }

// Do executes one logical call (built by buildReq) with rate limiting and
// retry/backoff. A 429 does not consume the retry attempt budget (spec
// §4.1): Do sleeps for the limiter's RetryDelay (the remote's Retry-After
// header is not read) and starts over. The outer loop absorbs 429s on its own uncounted cycle;
// resilience.WithRetry only ever sees non-429 outcomes, so its MaxRetries
// budget is never spent waiting out a 429 storm.
func (c *BaseClient) Do(ctx context.Context, operation string, buildReq func() *resty.Request) (*resty.Response, error) {
	for {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		var resp *resty.Response
		err := resilience.WithRetry(ctx, withOperation(c.policy, operation, c.logger), func(ctx context.Context) error {
			r, rateLimited, doErr := c.doOnce(ctx, buildReq)
			resp = r
			if rateLimited {
				return errRateLimited
			}
			return doErr
		})

		if err != nil && isRateLimited(err) {
			c.logger.Warn("rate limited by remote, sleeping outside retry budget",
				slog.String("operation", operation),
				slog.Duration("delay", c.limiter.RetryDelay()))
			select {
			case <-time.After(c.limiter.RetryDelay()):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return resp, err
	}
}

var errRateLimited = &TransportError{StatusCode: 429, Message: "rate limited", Category: ErrorCategoryPermanent}

func isRateLimited(err error) bool {
	var te *TransportError
	return asTransportError(err, &te) && te.StatusCode == 429
}

func withOperation(policy resilience.RetryPolicy, op string, logger *slog.Logger) resilience.RetryPolicy {
	policy.OperationName = op
	policy.Logger = logger
	policy.ErrorChecker = resilience.RetryableErrorCheckerFunc(func(err error) bool {
		var te *TransportError
		if ok := asTransportError(err, &te); ok {
			return te.IsRetryable()
		}
		return IsRetryableNetworkError(err)
	})
	return policy
}

func asTransportError(err error, target **TransportError) bool {
	for err != nil {
		if te, ok := err.(*TransportError); ok {
			*target = te
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// doOnce performs a single attempt, classifying the response. It is called
// by Do's retry loop; a true rateLimited return means the caller should sleep
// c.limiter.RetryDelay() and retry without burning a retry-policy attempt.
func (c *BaseClient) doOnce(ctx context.Context, buildReq func() *resty.Request) (*resty.Response, bool, error) {
	req := buildReq().SetContext(ctx)
	resp, err := req.Send()
	if err != nil {
		return nil, false, &TransportError{Message: err.Error(), Category: ErrorCategoryRetryable, Cause: err}
	}

	status := resp.StatusCode()
	if status >= 200 && status < 300 {
		return resp, false, nil
	}

	if status == 429 {
		// Sleep for the rate limiter's own recommended interval (spec §4.2),
		// not the remote's Retry-After value.
		return resp, true, &TransportError{StatusCode: status, Message: "rate limited", Category: ErrorCategoryRetryable}
	}

	category := ClassifyStatus(status)
	return resp, false, &TransportError{
		StatusCode: status,
		Message:    resp.String(),
		Category:   category,
	}
}

// Paginate drives a GET endpoint across pages of pageSize, invoking fetch for
// each offset until a short page is returned (spec §4.1, §8: "size <
// page_size always ends the loop"). fetch returns the number of items in the
// page it just processed.
func Paginate(ctx context.Context, pageSize int, fetch func(ctx context.Context, offset, limit int) (int, error)) error {
	offset := 0
	for {
		n, err := fetch(ctx, offset, pageSize)
		if err != nil {
			return err
		}
		if n < pageSize {
			return nil
		}
		offset += pageSize
	}
}
