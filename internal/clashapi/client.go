// Package clashapi is the HTTP/websocket client for the Clash external-controller API.
package clashapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"clashdash/internal/normalize"
	"clashdash/internal/shared/logger"
	"clashdash/internal/shared/types"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultSessionTimeout = 30 * time.Second
	maxBodyBytes          = 16 << 20
)

// Options 控制客户端的超时、证书校验与上游代理
type Options struct {
	RequestTimeout time.Duration // 单个请求, 默认 10s
	SessionTimeout time.Duration // http.Client 级别, 默认 30s

	// InsecureSkipVerify 对所有服务器关闭证书校验。也可以在单个 ServerConfig 上开启。
	InsecureSkipVerify bool

	// Socks5 非空时经由该 SOCKS5 代理 (host:port) 访问控制端
	Socks5 string
}

// OptionsFromConfig converts the [client] ini section.
func OptionsFromConfig(c types.ClientConf) Options {
	return Options{
		RequestTimeout:     time.Duration(c.RequestTimeout) * time.Second,
		SessionTimeout:     time.Duration(c.SessionTimeout) * time.Second,
		InsecureSkipVerify: c.InsecureSkipVerify,
		Socks5:             c.Socks5,
	}
}

// Client 对任意已配置的服务器执行一次请求/响应并归类结果。并发安全。
type Client struct {
	opts Options
	dial func(ctx context.Context, network, addr string) (net.Conn, error)

	mu      sync.Mutex
	clients map[bool]*http.Client // keyed by "skip certificate verification"
}

// New creates a Client. It fails only when the SOCKS5 address is unusable.
func New(opts Options) (*Client, error) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = defaultSessionTimeout
	}

	baseDialer := &net.Dialer{Timeout: opts.RequestTimeout, KeepAlive: 30 * time.Second}
	c := &Client{
		opts:    opts,
		dial:    baseDialer.DialContext,
		clients: make(map[bool]*http.Client),
	}

	if opts.Socks5 != "" {
		d, err := proxy.SOCKS5("tcp", opts.Socks5, nil, baseDialer)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("SOCKS5 dialer does not support contexts")
		}
		c.dial = cd.DialContext
	}
	return c, nil
}

// BaseURL returns {http|https}://host:port, stripping a scheme typed into the host field.
func BaseURL(server types.ServerConfig) *url.URL {
	host := strings.TrimSpace(server.Host)
	lower := strings.ToLower(host)
	for _, prefix := range []string{"http://", "https://"} {
		if strings.HasPrefix(lower, prefix) {
			host = host[len(prefix):]
			break
		}
	}
	host = strings.TrimRight(host, "/")

	scheme := "http"
	if server.UseSSL {
		scheme = "https"
	}
	return &url.URL{Scheme: scheme, Host: net.JoinHostPort(host, strings.TrimSpace(server.Port))}
}

func (c *Client) tlsConfig(server types.ServerConfig) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		MaxVersion:         tls.VersionTLS13,
		InsecureSkipVerify: c.opts.InsecureSkipVerify || server.InsecureSkipVerify,
	}
}

func (c *Client) httpClient(server types.ServerConfig) *http.Client {
	insecure := c.opts.InsecureSkipVerify || server.InsecureSkipVerify

	c.mu.Lock()
	defer c.mu.Unlock()
	if hc, ok := c.clients[insecure]; ok {
		return hc
	}

	transport := &http.Transport{
		DialContext:           c.dial,
		TLSClientConfig:       c.tlsConfig(server),
		TLSHandshakeTimeout:   c.opts.RequestTimeout,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConnsPerHost:   4,
	}
	hc := &http.Client{Transport: transport, Timeout: c.opts.SessionTimeout}
	c.clients[insecure] = hc
	return hc
}

func (c *Client) newRequest(ctx context.Context, server types.ServerConfig, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u, err := withPath(BaseURL(server), path)
	if err != nil {
		return nil, &normalize.ProtocolError{Message: "invalid request", Cause: err}
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, &normalize.ProtocolError{Message: "invalid request", Cause: err}
	}
	if server.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+server.Secret)
	}
	req.Header.Set("Content-Type", "application/json")
	if server.UseSSL {
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}
	return req, nil
}

// withPath sets an already escaped path, keeping %2F and friends intact.
func withPath(u *url.URL, escaped string) (*url.URL, error) {
	p, err := url.PathUnescape(escaped)
	if err != nil {
		return nil, err
	}
	u.Path = p
	u.RawPath = escaped
	return u, nil
}

// do performs one request with the per-request timeout. Network failures come
// back as *TransportError; HTTP statuses are returned as-is for the caller
// to interpret.
func (c *Client) do(ctx context.Context, server types.ServerConfig, method, path string, query url.Values, payload interface{}) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, server, method, path, query, body)
	if err != nil {
		return 0, nil, err
	}

	start := time.Now()
	resp, err := c.httpClient(server).Do(req)
	if err != nil {
		terr := Classify(err)
		logger.Debug().Str("server", server.DisplayName()).Str("method", method).Str("path", path).
			Err(err).Str("kind", terr.Kind.Message()).Msg("Control API request failed.")
		return 0, nil, terr
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, Classify(err)
	}
	logger.Debug().Str("server", server.DisplayName()).Str("method", method).Str("path", path).
		Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("Control API request done.")
	return resp.StatusCode, data, nil
}

// get performs a GET and returns the body of a 200 response.
func (c *Client) get(ctx context.Context, server types.ServerConfig, path string, query url.Values) ([]byte, error) {
	status, body, err := c.do(ctx, server, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, normalize.StatusError(status)
	}
	return body, nil
}

// expectNoContent performs a mutating call that the API acknowledges with 204.
func (c *Client) expectNoContent(ctx context.Context, server types.ServerConfig, method, path string, payload interface{}) error {
	status, _, err := c.do(ctx, server, method, path, nil, payload)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent {
		return normalize.StatusError(status)
	}
	return nil
}

// ErrorMessage returns the user-facing message for any error produced by the client.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind.Message()
	}
	var pe *normalize.ProtocolError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return err.Error()
}
