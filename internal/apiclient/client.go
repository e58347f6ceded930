// Package apiclient is the JSON client for the site backend API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unnet/isp-console/pkg/utilities"
)

// ErrRequestFailed matches every failed call: transport errors, non-2xx
// responses and undecodable bodies.
var ErrRequestFailed = errors.New("request failed")

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *StatusError) Is(target error) bool {
	return target == ErrRequestFailed
}

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	SigningKey string
	Logger     *zap.SugaredLogger
	IDs        *utilities.RequestIDs
}

// Client issues JSON requests relative to a base URL.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *zap.SugaredLogger
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q is not absolute", opts.BaseURL)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ids := opts.IDs
	if ids == nil {
		ids = utilities.NewRequestIDs(1)
	}

	var rt http.RoundTripper = http.DefaultTransport
	if opts.SigningKey != "" {
		rt = &bearerTransport{next: rt, tokens: NewTokenSource([]byte(opts.SigningKey), nil)}
	}
	rt = &loggingTransport{next: rt, logger: logger, ids: ids}

	return &Client{
		base:   base,
		http:   &http.Client{Transport: rt, Timeout: opts.Timeout},
		logger: logger,
	}, nil
}

func (c *Client) url(path string) string {
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimLeft(path, "/")
	return u.String()
}

// Do sends in (when non-nil) as JSON and decodes the response into out
// (when non-nil).
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %w", ErrRequestFailed, method, path, err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil)
}
