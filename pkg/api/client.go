package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 16 << 20

// Destination identifies one remote endpoint class.
type Destination struct {
	Type     string
	Host     string
	Port     int
	Username string
	Password string
}

// Addr returns host:port.
func (d Destination) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

func (d Destination) key() string {
	return d.Type + ":" + d.Host + ":" + strconv.Itoa(d.Port)
}

// Client issues requests against one Destination. Clients are built and
// memoized by a Cache; a session-bound client is a separate, derived Client
// that also sends the session token header on every request.
type Client struct {
	dest       Destination
	key        string
	httpClient *http.Client
	header     http.Header
	logger     *zap.Logger
}

// Destination returns the destination the client is bound to.
func (c *Client) Destination() Destination {
	return c.dest
}

// Timeout returns the client-side request timeout (0 = none).
func (c *Client) Timeout() time.Duration {
	return c.httpClient.Timeout
}

// Header returns the value of a fixed header sent on every request.
func (c *Client) Header(name string) string {
	return c.header.Get(name)
}

// URL builds an absolute URL for path on the client's destination.
func (c *Client) URL(path string) string {
	return "https://" + c.dest.Addr() + path
}

// Validate checks a response against the response contract.
func (c *Client) Validate(resp *http.Response, body []byte) ([]byte, error) {
	return Validate(resp, body)
}

// Classify maps a failure onto the error taxonomy.
func (c *Client) Classify(err error) error {
	return Classify(err)
}

// Post sends in as a JSON body (no body when in is nil) and returns the
// response with its body fully read. Transport failures are classified;
// the response itself is not validated.
func (c *Client) Post(ctx context.Context, path string, in any) (*http.Response, []byte, error) {
	start := time.Now()
	resp, body, err := c.post(ctx, path, in)
	if err == nil {
		RecordRequest(c.dest.Type, path, time.Since(start).Seconds(), nil)
	}
	return resp, body, err
}

func (c *Client) post(ctx context.Context, path string, in any) (*http.Response, []byte, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(path), body)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, path)
}

// Call posts in to path, validates the response and decodes it into out
// (skipped when out is nil). Every failure is classified exactly once.
func (c *Client) Call(ctx context.Context, path string, in, out any) error {
	start := time.Now()
	resp, body, err := c.post(ctx, path, in)
	if err != nil {
		return err
	}
	err = c.decode(resp, body, out)
	RecordRequest(c.dest.Type, path, time.Since(start).Seconds(), err)
	return err
}

// Upload streams files as a multipart form to path together with the
// given plain fields, then validates and decodes the response like Call.
// files maps form field names to local file paths.
func (c *Client) Upload(ctx context.Context, path string, fields, files map[string]string, out any) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeMultipart(mw, fields, files))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(path), pr)
	if err != nil {
		pr.Close()
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, body, err := c.do(req, path)
	if err != nil {
		return err
	}
	err = c.decode(resp, body, out)
	RecordRequest(c.dest.Type, path, time.Since(start).Seconds(), err)
	return err
}

func writeMultipart(mw *multipart.Writer, fields, files map[string]string) error {
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("write field %q: %w", k, err)
		}
	}
	for field, p := range files {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("open upload %q: %w", p, err)
		}
		part, err := mw.CreateFormFile(field, filepath.Base(p))
		if err != nil {
			f.Close()
			return fmt.Errorf("create form file: %w", err)
		}
		_, err = io.Copy(part, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("copy upload %q: %w", p, err)
		}
	}
	return mw.Close()
}

func (c *Client) decode(resp *http.Response, body []byte, out any) error {
	body, err := c.Validate(resp, body)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", resp.Request.URL.Path, err)
	}
	return nil
}

// do executes req with the client's credentials and fixed headers.
// Transport failures are recorded here; callers record completed requests
// once the outcome is known.
func (c *Client) do(req *http.Request, path string) (*http.Response, []byte, error) {
	if c.dest.Username != "" || c.dest.Password != "" {
		req.SetBasicAuth(c.dest.Username, c.dest.Password)
	}
	for name, values := range c.header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = c.Classify(err)
		RecordRequest(c.dest.Type, path, time.Since(start).Seconds(), err)
		c.logger.Debug("request failed",
			zap.String("url", req.URL.String()),
			zap.Error(err),
		)
		return nil, nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		err = c.Classify(fmt.Errorf("read response: %w", err))
		RecordRequest(c.dest.Type, path, time.Since(start).Seconds(), err)
		return nil, nil, err
	}

	c.logger.Debug("request",
		zap.String("url", req.URL.String()),
		zap.Int("status", resp.StatusCode),
	)
	return resp, body, nil
}
