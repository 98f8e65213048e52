package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/pushload/internal/tracing"
)

const maxLoginResponseBytes = 64 * 1024

// LoginAuthenticator calls GET {host}/auth/login?username=<id>&password=<pw>
// and expects {"token", "url", "expire", "error"} back.
type LoginAuthenticator struct {
	host       string
	password   string
	httpClient *http.Client
	tracer     trace.Tracer
	propagate  bool
}

// LoginOption customises a LoginAuthenticator.
type LoginOption func(*LoginAuthenticator)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) LoginOption {
	return func(a *LoginAuthenticator) {
		if c != nil {
			a.httpClient = c
		}
	}
}

// WithTracing wraps each login in a client span and, when propagate is set,
// injects W3C trace headers into the request.
func WithTracing(tracer trace.Tracer, propagate bool) LoginOption {
	return func(a *LoginAuthenticator) {
		a.tracer = tracer
		a.propagate = propagate
	}
}

// NewLoginAuthenticator creates an authenticator for the login endpoint under host.
func NewLoginAuthenticator(host, password string, timeout time.Duration, opts ...LoginOption) *LoginAuthenticator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	a := &LoginAuthenticator{
		host:       strings.TrimRight(host, "/"),
		password:   password,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate performs one login round trip. It never caches.
func (a *LoginAuthenticator) Authenticate(ctx context.Context, clientID string) (info Info, err error) {
	if a.tracer != nil {
		var span trace.Span
		ctx, span = tracing.StartRequestSpan(ctx, a.tracer, "http", "auth/login")
		defer func() {
			tracing.EndSpan(span, err, attribute.String("pushload.client_id", clientID))
		}()
	}

	q := url.Values{}
	q.Set("username", clientID)
	q.Set("password", a.password)
	loginURL := a.host + "/auth/login?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loginURL, nil)
	if err != nil {
		return Info{}, &Error{ClientID: clientID, Reason: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if a.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Info{}, &Error{ClientID: clientID, Reason: "request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLoginResponseBytes))
	if err != nil {
		return Info{}, &Error{ClientID: clientID, Reason: "read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return Info{}, &Error{ClientID: clientID, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	return parseLoginResponse(clientID, body)
}

func parseLoginResponse(clientID string, body []byte) (Info, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return Info{}, &Error{ClientID: clientID, Reason: "empty response"}
	}
	if !gjson.ValidBytes(body) {
		return Info{}, &Error{ClientID: clientID, Reason: "malformed response"}
	}

	fields := gjson.GetManyBytes(body, "token", "url", "expire", "error")
	if msg := fields[3].String(); msg != "" {
		return Info{}, &Error{ClientID: clientID, Reason: msg}
	}
	info := Info{
		Token:      fields[0].String(),
		ServiceURL: fields[1].String(),
		ExpiresAt:  fields[2].Int(),
	}
	if info.Token == "" || info.ServiceURL == "" {
		return Info{}, &Error{ClientID: clientID, Reason: "response missing url or token"}
	}
	return info, nil
}
