// Package moodle is a typed client for the Moodle Web Service REST binding.
// It covers exactly the five read-only functions used to browse forums.
package moodle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/ironsheep/moodle-forum-mcp/internal/logging"
)

const (
	// RESTPath is the Web Service endpoint relative to the Moodle base URL.
	RESTPath = "/webservice/rest/server.php"

	// DefaultTimeout matches the per-call timeout used by the desktop integration.
	DefaultTimeout = 60 * time.Second

	maxResponseBytes = 32 << 20
)

// Client issues signed Web Service calls against a single Moodle site.
// It holds no state between calls and is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	endpoint   string
	token      string
	log        zerolog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithTimeout sets the per-call HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithEndpoint overrides the full REST endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a client for the Moodle site at baseURL authenticated
// with the given service token.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		endpoint: Endpoint(baseURL),
		token:    token,
		log:      zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Endpoint returns the REST endpoint for a Moodle base URL, or "" if the
// base URL is empty.
func Endpoint(baseURL string) string {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return ""
	}
	return baseURL + RESTPath
}

// Configured reports whether the client has both an endpoint and a token.
func (c *Client) Configured() bool {
	return c.endpoint != "" && c.token != ""
}

// call performs one Web Service request and returns the raw JSON body once
// the Moodle exception envelope has been ruled out.
func (c *Client) call(ctx context.Context, function string, params url.Values) ([]byte, error) {
	if !c.Configured() {
		return nil, &ProtocolError{Function: function, Reason: "missing MOODLE_BASE_URL or MOODLE_TOKEN"}
	}

	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}
	form.Set("wstoken", c.token)
	form.Set("wsfunction", function)
	form.Set("moodlewsrestformat", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, newProtocolError(function, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	log := c.log.With().Str("wsfunction", function).Logger()
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("Moodle request failed")
		return nil, &TransportError{Function: function, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Function: function, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	log.Debug().
		Int("status_code", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Strs("params_keys", paramKeys(params)).
		Str("token", logging.Redact(c.token, 4)).
		Msg("Moodle request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProtocolError{Function: function, StatusCode: resp.StatusCode, Reason: "unexpected HTTP status"}
	}

	if !gjson.ValidBytes(body) {
		return nil, newProtocolError(function, "response is not valid JSON", nil)
	}

	if rej := exceptionEnvelope(function, body); rej != nil {
		log.Warn().Str("errorcode", rej.ErrorCode).Str("message", rej.Message).Msg("Moodle API exception")
		return nil, rej
	}

	return body, nil
}

// exceptionEnvelope detects Moodle's error object, which is returned with a
// 200 status in place of the normal payload.
func exceptionEnvelope(function string, body []byte) *RemoteRejection {
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil
	}
	exception := root.Get("exception")
	errorCode := root.Get("errorcode")
	if !exception.Exists() && !errorCode.Exists() {
		return nil
	}
	return &RemoteRejection{
		Function:  function,
		Exception: exception.String(),
		ErrorCode: errorCode.String(),
		Message:   root.Get("message").String(),
		DebugInfo: root.Get("debuginfo").String(),
	}
}

func decode(function string, body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return newProtocolError(function, "unexpected response shape", err)
	}
	return nil
}

func paramKeys(params url.Values) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
