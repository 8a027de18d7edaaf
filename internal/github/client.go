package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v81/github"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Client publishes validation reports to GitHub.
type Client struct {
	Client *github.Client
	HTTP   *http.Client
}

type options struct {
	verbose bool
	logger  zerolog.Logger
	baseURL string
}

type Option func(*options)

// WithVerbose logs every GitHub API call at debug level.
func WithVerbose(enabled bool, logger zerolog.Logger) Option {
	return func(o *options) {
		o.verbose = enabled
		o.logger = logger
	}
}

// WithBaseURL points the client at a GitHub Enterprise Server API or a test server.
func WithBaseURL(raw string) Option {
	return func(o *options) { o.baseURL = raw }
}

type loggingRoundTripper struct {
	base http.RoundTripper
	log  zerolog.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	t.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("github api")
	resp, err := t.base.RoundTrip(req)
	dur := time.Since(start).Truncate(time.Millisecond)
	if err != nil {
		t.log.Debug().Err(err).Dur("elapsed", dur).Msg("github api failed")
	} else {
		t.log.Debug().Int("status", resp.StatusCode).Dur("elapsed", dur).Msg("github api done")
	}
	return resp, err
}

func NewClient(ctx context.Context, token string, opts ...Option) (*Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("github client: ctx is nil")
	}

	o := &options{logger: zerolog.Nop()}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}

	transport := http.DefaultTransport
	if o.verbose {
		transport = &loggingRoundTripper{base: transport, log: o.logger}
	}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		transport = &oauth2.Transport{Source: ts, Base: transport}
	}
	tc := &http.Client{Transport: transport}

	gc := github.NewClient(tc)
	if o.baseURL != "" {
		raw := o.baseURL
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("github client: invalid base URL: %w", err)
		}
		gc.BaseURL = u
	}

	return &Client{
		Client: gc,
		HTTP:   tc,
	}, nil
}
