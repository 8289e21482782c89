// Package backend is the client for the connect REST API. Requests are
// form-encoded POSTs authenticated with the user's id and token; responses
// are JSON on success and a plain-text message otherwise.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/yanivian/connect-app-sub000/internal/metrics"
)

// Identity supplies the credentials attached to every request.
type Identity interface {
	Credentials(ctx context.Context) (userID, token string, err error)
}

// StaticIdentity is an Identity with fixed credentials.
type StaticIdentity struct {
	UserID string
	Token  string
}

func (s StaticIdentity) Credentials(context.Context) (string, string, error) {
	if s.UserID == "" {
		return "", "", errors.New("no user configured")
	}
	return s.UserID, s.Token, nil
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Identity   Identity
	HTTPClient *http.Client
	// RPS limits outgoing requests per second. Zero disables the limit.
	RPS     float64
	Burst   int
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Client talks to the backend.
type Client struct {
	baseURL    string
	identity   Identity
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		identity:   opts.Identity,
		httpClient: opts.HTTPClient,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if opts.RPS > 0 {
		burst := max(opts.Burst, 1)
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return c
}

// post sends form to endpoint and decodes the JSON response into out.
// out may be nil for endpoints without a response body.
func (c *Client) post(ctx context.Context, endpoint string, form url.Values, out any) error {
	if form == nil {
		form = url.Values{}
	}
	if err := c.authenticate(ctx, form); err != nil {
		return err
	}
	body := strings.NewReader(form.Encode())
	return c.do(ctx, endpoint, "application/x-www-form-urlencoded", body, out)
}

// postFile sends a multipart upload with the file under field "file".
func (c *Client) postFile(ctx context.Context, endpoint, filename string, data []byte, out any) error {
	form := url.Values{}
	if err := c.authenticate(ctx, form); err != nil {
		return err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k := range form {
		if err := w.WriteField(k, form.Get(k)); err != nil {
			return fmt.Errorf("write field %s: %w", k, err)
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", mimetype.Detect(data).String())
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}
	return c.do(ctx, endpoint, w.FormDataContentType(), &buf, out)
}

func (c *Client) authenticate(ctx context.Context, form url.Values) error {
	if c.identity == nil {
		return errors.New("backend: no identity")
	}
	id, token, err := c.identity.Credentials(ctx)
	if err != nil {
		return fmt.Errorf("credentials: %w", err)
	}
	form.Set("id", id)
	form.Set("token", token)
	return nil
}

func (c *Client) do(ctx context.Context, endpoint, contentType string, body io.Reader, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.Backend(endpoint, "error")
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.Backend(endpoint, "error")
		return fmt.Errorf("%s: read response: %w", endpoint, err)
	}
	c.logger.Debug("backend request",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.Backend(endpoint, "http_"+fmt.Sprint(resp.StatusCode))
		return &APIError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
		}
	}
	c.metrics.Backend(endpoint, "ok")

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}
