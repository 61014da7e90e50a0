// Package apiclient talks to the pool's REST API. It never retries; callers
// poll again on their next tick.
package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/JellyTony/poolboard/logger"
	"github.com/JellyTony/poolboard/protocol"
)

// legacyPassword is the fixed Basic-auth password paired with a legacy token.
const legacyPassword = "random"

const maxBodySize = 8 << 20

type Options struct {
	BaseURL   string
	V2BaseURL string
	Timeout   time.Duration
	HTTP      *http.Client
}

// Credentials identify an authenticated miner for upstream calls.
type Credentials struct {
	ID          int64
	Username    string
	Token       string
	LegacyToken string
}

type Client struct {
	base string
	v2   string
	http *http.Client
}

func New(opts Options) *Client {
	hc := opts.HTTP
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	v2 := opts.V2BaseURL
	if v2 == "" {
		v2 = opts.BaseURL
	}
	return &Client{
		base: strings.TrimRight(opts.BaseURL, "/"),
		v2:   strings.TrimRight(v2, "/"),
		http: hc,
	}
}

type authFunc func(*http.Request)

func basicAuth(user, pass string) authFunc {
	return func(r *http.Request) { r.SetBasicAuth(user, pass) }
}

func legacyAuth(c Credentials) authFunc { return basicAuth(c.LegacyToken, legacyPassword) }

func tokenAuth(c Credentials) authFunc { return basicAuth(c.Username, c.Token) }

// do performs one request and decodes a JSON body into out (when non-nil).
func (c *Client) do(ctx context.Context, method, rawURL string, body io.Reader, contentType string, auth authFunc, out any) error {
	endpoint := endpointName(rawURL)
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return &FetchError{Kind: KindUnavailable, Endpoint: endpoint, Err: errors.Wrap(err, "build request")}
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if auth != nil {
		auth(req)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &FetchError{Kind: KindUnavailable, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	logger.WithFields(logger.Fields{"module": "apiclient", "endpoint": endpoint, "status": resp.StatusCode, "elapsed": time.Since(start)}).Debug("upstream call")
	if err != nil {
		return &FetchError{Kind: KindUnavailable, Endpoint: endpoint, Err: errors.Wrap(err, "read body")}
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &FetchError{Kind: KindUnauthorized, Endpoint: endpoint, Status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &FetchError{Kind: KindStatus, Endpoint: endpoint, Status: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := decodeInto(data, out); err != nil {
		return &FetchError{Kind: KindMalformed, Endpoint: endpoint, Err: err}
	}
	return nil
}

func decodeInto(data []byte, out any) error {
	if rs, ok := out.(*protocol.RigShareMap); ok {
		m, err := protocol.DecodeRigShares(data)
		if err != nil {
			return err
		}
		*rs = m
		return nil
	}
	return errors.Wrap(protocol.Decode(data, out), "decode body")
}

func (c *Client) get(ctx context.Context, rawURL string, auth authFunc, out any) error {
	return c.do(ctx, http.MethodGet, rawURL, nil, "", auth, out)
}

func (c *Client) postJSON(ctx context.Context, rawURL string, in any, auth authFunc, out any) error {
	var body io.Reader
	if in != nil {
		b, err := protocol.Encode(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(b)
	}
	return c.do(ctx, http.MethodPost, rawURL, body, "application/json", auth, out)
}

// endpointName strips the host so logs and errors group by route.
func endpointName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}

func rangePath(height, count int64) string {
	return fmt.Sprintf("%d,%d", height, count)
}
