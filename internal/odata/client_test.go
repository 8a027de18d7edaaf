package odata

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingTransport struct{ calls int }

func (f *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

func TestNewClient_NilContextReturnsError(t *testing.T) {
	var nilCtx context.Context
	_, err := NewClient(nilCtx, "http://example.test/svc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ctx is nil")
}

func TestNewClient_RejectsRelativeRoot(t *testing.T) {
	_, err := NewClient(context.Background(), "svc/")
	require.Error(t, err)
}

func TestNormalizeRoot(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://h/svc", want: "http://h/svc/"},
		{in: "https://h/svc/", want: "https://h/svc/"},
		{in: " http://h/svc?$format=json ", want: "http://h/svc/"},
		{in: "ftp://h/svc", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeRoot(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDo_SendsDefaultAndProbeHeaders(t *testing.T) {
	var got http.Header
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		gotPath = r.URL.Path
		w.Header().Set("OData-Version", "4.0")
		w.Header().Set("Content-Type", "application/json;odata.metadata=minimal")
		_, _ = w.Write([]byte(`{"value":[]}`))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), srv.URL+"/svc",
		WithToken("secret"),
		WithHeaders(map[string]string{"X-Tenant": "a"}),
	)
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), Get("People").WithHeader("Prefer", "odata.maxpagesize=2"))
	require.NoError(t, err)

	assert.Equal(t, "/svc/People", gotPath)
	assert.Equal(t, "Bearer secret", got.Get("Authorization"))
	assert.Equal(t, "4.01", got.Get("OData-MaxVersion"))
	assert.Equal(t, "application/json", got.Get("Accept"))
	assert.Equal(t, "a", got.Get("X-Tenant"))
	assert.Equal(t, "odata.maxpagesize=2", got.Get("Prefer"))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.ContentType())
	assert.Equal(t, srv.URL+"/svc/People", resp.URL)
	assert.Equal(t, "odata.maxpagesize=2", resp.RequestHeaders["Prefer"])
	assert.JSONEq(t, `{"value":[]}`, string(resp.Body))
}

func TestDo_NonSuccessIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotImplemented)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), srv.URL)
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), Get("$batch"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	assert.False(t, resp.IsSuccess())
}

func TestFetch_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"404","message":"no such resource"}}`))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), srv.URL)
	require.NoError(t, err)

	resp, err := c.Fetch(context.Background(), "$metadata", "application/xml")
	require.Error(t, err)
	require.NotNil(t, resp)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, "no such resource", se.Message)
	assert.Contains(t, err.Error(), "404 no such resource")
}

func TestDo_BreakerOpensAfterConsecutiveTransportFailures(t *testing.T) {
	ft := &failingTransport{}
	c, err := NewClient(context.Background(), "http://odata.invalid/svc",
		WithTransport(ft),
		WithBreaker(2, time.Minute),
	)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := c.Do(context.Background(), Get(""))
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}

	_, err = c.Do(context.Background(), Get(""))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, ft.calls)
}

func TestNewClient_WithVerbose_Logs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	c, err := NewClient(context.Background(), srv.URL, WithVerbose(true, logger))
	require.NoError(t, err)

	_, err = c.Do(context.Background(), Get("$metadata"))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"message":"probe"`)
	assert.Contains(t, out, "$metadata")
	assert.Contains(t, out, `"status":200`)
}

func TestErrorPayloadHelpers(t *testing.T) {
	assert.True(t, IsErrorPayload([]byte(`{"error":{"code":"x","message":"y"}}`)))
	assert.False(t, IsErrorPayload([]byte(`{"error":{"message":"y"}}`)))
	assert.False(t, IsErrorPayload([]byte(`not json`)))
	assert.True(t, IsErrorPayload([]byte(`{"error":{"code":"","message":{"lang":"en-US","value":"bad"}}}`)))
	assert.False(t, IsErrorPayload([]byte(`{"error":{"code":400,"message":"y"}}`)))
	assert.False(t, IsErrorPayload([]byte(`{"error":"boom"}`)))
	assert.False(t, IsErrorPayload([]byte(`{"error":{"code":"x","message":"y","details":[{"code":"d"}]}}`)))
	assert.Equal(t, "x", ErrorCode([]byte(`{"error":{"code":"x","message":"y"}}`)))
	assert.Equal(t, "nested", errorMessageFromBody([]byte(`{"error":{"code":"1","message":{"lang":"en","value":"nested"}}}`)))
}

func TestAuthOptions(t *testing.T) {
	t.Setenv(TokenEnv, "")
	opts, err := AuthOptions(Credentials{})
	require.NoError(t, err)
	assert.Empty(t, opts)

	_, err = AuthOptions(Credentials{ClientID: "id"})
	require.Error(t, err)

	opts, err = AuthOptions(Credentials{ClientID: "id", ClientSecret: "s", TokenURL: "http://idp/token"})
	require.NoError(t, err)
	assert.Len(t, opts, 1)

	t.Setenv(TokenEnv, "env-token")
	tok, src := ResolveAuthToken("")
	assert.Equal(t, "env-token", tok)
	assert.Equal(t, TokenEnv, src)
	tok, src = ResolveAuthToken("flag-token")
	assert.Equal(t, "flag-token", tok)
	assert.Equal(t, "flag", src)
}

func TestRequestBuilders(t *testing.T) {
	post := Post("$batch", "application/json", []byte(`{}`))
	assert.Equal(t, http.MethodPost, post.Method)
	assert.Equal(t, "application/json", post.Headers["Content-Type"])
	assert.Equal(t, []byte(`{}`), post.Body)

	patch := Patch("People('russell')", "", []byte(`{"Age":1}`))
	assert.Equal(t, http.MethodPatch, patch.Method)
	assert.Empty(t, patch.Headers)

	del := Delete("People('russell')")
	assert.Equal(t, http.MethodDelete, del.Method)
	assert.Nil(t, del.Body)

	withAccept := Get("People").WithHeader("Accept", "application/xml")
	assert.Equal(t, "application/xml", withAccept.Headers["Accept"])
}

func TestDo_RedactsConfiguredHeadersInReportedRequest(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`{"value":[]}`))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), srv.URL,
		WithHeaders(map[string]string{"Authorization": "Bearer s3cret", "x-tenant-key": "k1"}),
	)
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), Get("People").WithHeader("Prefer", "return=minimal"))
	require.NoError(t, err)

	assert.Equal(t, "Bearer s3cret", got.Get("Authorization"))
	assert.Equal(t, "k1", got.Get("X-Tenant-Key"))

	assert.Equal(t, Redacted, resp.RequestHeaders["Authorization"])
	assert.Equal(t, Redacted, resp.RequestHeaders["x-tenant-key"])
	assert.Equal(t, "return=minimal", resp.RequestHeaders["Prefer"])
	assert.Equal(t, "application/json", resp.RequestHeaders["Accept"])
}

func TestRedactHeaders(t *testing.T) {
	assert.Nil(t, RedactHeaders(nil, nil))

	in := map[string]string{"cookie": "sid=1", "X-Api-Key": "k", "X-Custom": "v", "Accept": "a"}
	out := RedactHeaders(in, map[string]bool{"X-Custom": true})
	assert.Equal(t, map[string]string{"cookie": Redacted, "X-Api-Key": Redacted, "X-Custom": Redacted, "Accept": "a"}, out)
	assert.Equal(t, "sid=1", in["cookie"], "input must not be modified")
}
