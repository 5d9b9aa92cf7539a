package clashapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"clashdash/internal/normalize"
	"clashdash/internal/shared/logger"
	"clashdash/internal/shared/types"
)

// Traffic 是 /traffic 每秒推送一次的速率 (bytes/s)
type Traffic struct {
	Up   int64 `json:"up"`
	Down int64 `json:"down"`
}

// Memory 是 /memory 推送的内存占用
type Memory struct {
	Inuse   int64 `json:"inuse"`
	OSLimit int64 `json:"oslimit"`
}

// LogEntry 是 /logs 推送的一行内核日志
type LogEntry struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

// LogLevels accepted by /logs?level=.
var LogLevels = []string{"debug", "info", "warning", "error", "silent"}

// streamURL builds the ws(s):// URL. Browsers cannot set headers on websocket
// handshakes, so cores also accept the secret as ?token=; both are sent.
func streamURL(server types.ServerConfig, path string, query url.Values) *url.URL {
	u := BaseURL(server)
	if server.UseSSL {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = path
	if query == nil {
		query = url.Values{}
	}
	if server.Secret != "" {
		query.Set("token", server.Secret)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u
}

func (c *Client) dialStream(ctx context.Context, server types.ServerConfig, path string, query url.Values) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		NetDialContext:   c.dial,
		TLSClientConfig:  c.tlsConfig(server),
		HandshakeTimeout: c.opts.RequestTimeout,
	}
	header := http.Header{}
	if server.Secret != "" {
		header.Set("Authorization", "Bearer "+server.Secret)
	}

	u := streamURL(server, path, query)
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, normalize.StatusError(resp.StatusCode)
		}
		return nil, Classify(err)
	}
	logger.Debug().Str("server", server.DisplayName()).Str("path", path).Msg("Control API stream opened.")
	return conn, nil
}

// stream reads JSON frames until ctx is done or the connection drops, calling
// fn for each decoded frame. It returns nil when ctx ends the stream.
func stream[T any](ctx context.Context, c *Client, server types.ServerConfig, path string, query url.Values, fn func(T)) error {
	conn, err := c.dialStream(ctx, server, path, query)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return Classify(err)
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Skipping malformed stream frame.")
			continue
		}
		fn(v)
	}
}

// StreamTraffic blocks, delivering traffic samples to fn until ctx is cancelled.
func (c *Client) StreamTraffic(ctx context.Context, server types.ServerConfig, fn func(Traffic)) error {
	return stream(ctx, c, server, "/traffic", nil, fn)
}

// StreamMemory blocks, delivering memory samples (Meta cores only).
func (c *Client) StreamMemory(ctx context.Context, server types.ServerConfig, fn func(Memory)) error {
	return stream(ctx, c, server, "/memory", nil, fn)
}

// StreamLogs blocks, delivering core log lines at or above level.
func (c *Client) StreamLogs(ctx context.Context, server types.ServerConfig, level string, fn func(LogEntry)) error {
	q := url.Values{}
	if level != "" {
		valid := false
		for _, l := range LogLevels {
			if l == level {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid log level %q", level)
		}
		q.Set("level", level)
	}
	return stream(ctx, c, server, "/logs", q, fn)
}
