package odata

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"odatacheck/internal/metrics"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
)

// Client issues probes against a single OData service.
type Client struct {
	root    *url.URL
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	headers map[string]string
	// private names the configured extra headers, canonicalized, whose
	// values are redacted in Response.RequestHeaders.
	private map[string]bool
}

type options struct {
	verbose         bool
	logger          zerolog.Logger
	token           string
	credentials     *clientcredentials.Config
	headers         map[string]string
	timeout         time.Duration
	maxVersion      string
	breakerFailures uint32
	breakerCooldown time.Duration
	transport       http.RoundTripper
}

type Option func(*options)

// WithVerbose logs every probe (method, URL, status, latency) at debug level.
func WithVerbose(enabled bool, logger zerolog.Logger) Option {
	return func(o *options) {
		o.verbose = enabled
		o.logger = logger
	}
}

// WithToken authenticates probes with a static bearer token.
func WithToken(token string) Option {
	return func(o *options) { o.token = strings.TrimSpace(token) }
}

// WithClientCredentials authenticates probes with the OAuth2 client
// credentials grant. It takes precedence over WithToken.
func WithClientCredentials(cfg *clientcredentials.Config) Option {
	return func(o *options) { o.credentials = cfg }
}

// WithHeaders adds headers sent with every probe.
func WithHeaders(h map[string]string) Option {
	return func(o *options) {
		if o.headers == nil {
			o.headers = make(map[string]string, len(h))
		}
		maps.Copy(o.headers, h)
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMaxVersion sets the OData-MaxVersion request header.
func WithMaxVersion(v string) Option {
	return func(o *options) { o.maxVersion = v }
}

// WithBreaker configures how many consecutive transport failures open the
// circuit and how long it stays open.
func WithBreaker(failures uint32, cooldown time.Duration) Option {
	return func(o *options) {
		o.breakerFailures = failures
		o.breakerCooldown = cooldown
	}
}

// WithTransport replaces the base transport (tests).
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// loggingRoundTripper emits one line per request and response (including
// latency) when verbose logging is enabled.
type loggingRoundTripper struct {
	base http.RoundTripper
	log  zerolog.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	t.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("probe")
	resp, err := t.base.RoundTrip(req)
	dur := time.Since(start)
	if err != nil {
		t.log.Debug().Err(err).Dur("elapsed", dur).Msg("probe failed")
	} else {
		t.log.Debug().Int("status", resp.StatusCode).Dur("elapsed", dur).Msg("probe done")
	}
	return resp, err
}

func NewClient(ctx context.Context, root string, opts ...Option) (*Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("odata client: ctx is nil")
	}
	normalized, err := NormalizeRoot(root)
	if err != nil {
		return nil, fmt.Errorf("odata client: %w", err)
	}
	base, err := url.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("odata client: parse root: %w", err)
	}

	o := &options{
		logger:          zerolog.Nop(),
		timeout:         defaultTimeout,
		maxVersion:      Version401,
		breakerFailures: defaultBreakerFailures,
		breakerCooldown: defaultBreakerCooldown,
	}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}

	transport := o.transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if o.verbose {
		transport = &loggingRoundTripper{base: transport, log: o.logger}
	}
	switch {
	case o.credentials != nil:
		// The token endpoint is called with the base transport, not the
		// authenticated one.
		tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: transport})
		transport = &oauth2.Transport{Source: o.credentials.TokenSource(tokenCtx), Base: transport}
	case o.token != "":
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: o.token})
		transport = &oauth2.Transport{Source: ts, Base: transport}
	}

	hc := &http.Client{Transport: transport, Timeout: o.timeout}
	rc := resty.NewWithClient(hc)

	headers := map[string]string{
		"Accept":           "application/json",
		"OData-MaxVersion": o.maxVersion,
	}
	maps.Copy(headers, o.headers)
	private := make(map[string]bool, len(o.headers))
	for k := range o.headers {
		private[http.CanonicalHeaderKey(k)] = true
	}

	failures := o.breakerFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	name := base.Host + base.Path
	log := o.logger
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     o.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// Cancellation says nothing about the health of the service.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("service", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			metrics.ObserveBreakerTransition(name, to.String())
		},
	})

	return &Client{
		root:    base,
		http:    rc,
		breaker: breaker,
		headers: headers,
		private: private,
	}, nil
}

// Root returns the normalized service root URL.
func (c *Client) Root() string {
	return c.root.String()
}

// Resolve turns a root-relative reference into an absolute URL.
func (c *Client) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid request URL %q: %w", ref, err)
	}
	return c.root.ResolveReference(u).String(), nil
}

// Do issues one probe. Non-2xx responses are not errors; only transport
// failures, cancellation and an open circuit are.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if ctx == nil {
		return nil, fmt.Errorf("odata: nil context")
	}
	if c == nil || c.http == nil || c.breaker == nil {
		return nil, fmt.Errorf("odata: client not initialized (use NewClient)")
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	target, err := c.Resolve(req.URL)
	if err != nil {
		return nil, err
	}

	sent := make(map[string]string, len(c.headers)+len(req.Headers))
	maps.Copy(sent, c.headers)
	maps.Copy(sent, req.Headers)

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		r := c.http.R().SetContext(ctx).SetHeaders(sent)
		if len(req.Body) > 0 {
			r.SetBody(req.Body)
		}
		return r.Execute(method, target)
	})
	dur := time.Since(start)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s %s: %w", method, target, ErrCircuitOpen)
	}
	if err != nil {
		metrics.ObserveProbe(method, "error", dur)
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	rr, ok := out.(*resty.Response)
	if !ok || rr == nil {
		return nil, fmt.Errorf("%s %s: empty response", method, target)
	}
	metrics.ObserveProbe(method, strconv.Itoa(rr.StatusCode()), dur)

	return &Response{
		URL:            target,
		StatusCode:     rr.StatusCode(),
		Header:         rr.Header(),
		Body:           rr.Body(),
		RequestHeaders: RedactHeaders(sent, c.private),
		Duration:       dur,
	}, nil
}

// Fetch issues a GET for a shared document and turns non-2xx statuses into
// a *StatusError.
func (c *Client) Fetch(ctx context.Context, ref, accept string) (*Response, error) {
	req := Get(ref)
	if accept != "" {
		req = req.WithHeader("Accept", accept)
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return resp, &StatusError{
			Method:     http.MethodGet,
			URL:        resp.URL,
			StatusCode: resp.StatusCode,
			Message:    errorMessageFromBody(resp.Body),
		}
	}
	return resp, nil
}
