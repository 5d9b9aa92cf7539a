package clashapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"clashdash/internal/normalize"
	"clashdash/internal/shared/types"
)

// TunConfig 是 Meta 内核 /configs 中的 tun 段
type TunConfig struct {
	Enable              bool     `json:"enable"`
	Stack               string   `json:"stack,omitempty"`
	Device              string   `json:"device,omitempty"`
	AutoRoute           bool     `json:"auto-route"`
	AutoDetectInterface bool     `json:"auto-detect-interface"`
	DNSHijack           []string `json:"dns-hijack,omitempty"`
}

// RuntimeConfig 是 GET /configs 的返回值 (各内核共有的部分)
type RuntimeConfig struct {
	Port        int        `json:"port"`
	SocksPort   int        `json:"socks-port"`
	MixedPort   int        `json:"mixed-port"`
	RedirPort   int        `json:"redir-port"`
	TProxyPort  int        `json:"tproxy-port"`
	AllowLan    bool       `json:"allow-lan"`
	BindAddress string     `json:"bind-address,omitempty"`
	Mode        string     `json:"mode"`
	LogLevel    string     `json:"log-level"`
	IPv6        bool       `json:"ipv6"`
	Tun         *TunConfig `json:"tun,omitempty"`
}

// IsMeta reports whether the core exposes Meta-only sections (tun).
func (r RuntimeConfig) IsMeta() bool { return r.Tun != nil }

var portKeys = map[string]bool{
	"port": true, "socks-port": true, "mixed-port": true, "redir-port": true, "tproxy-port": true,
}

var enumKeys = map[string][]string{
	"mode":      {"rule", "global", "direct", "script"},
	"log-level": {"debug", "info", "warning", "error", "silent"},
}

// ValidatePort parses a port typed by the user; 0 disables the listener.
func ValidatePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil || p < 0 || p > 65535 {
		return 0, fmt.Errorf("invalid port %q: must be 0-65535", s)
	}
	return p, nil
}

// ConfigPatch builds the PATCH /configs body for one key. "tun.enable" and
// similar dotted keys are nested one level.
func ConfigPatch(key string, value interface{}) (map[string]interface{}, error) {
	if portKeys[key] {
		switch v := value.(type) {
		case string:
			p, err := ValidatePort(v)
			if err != nil {
				return nil, err
			}
			value = p
		case int:
			if v < 0 || v > 65535 {
				return nil, fmt.Errorf("invalid port %d: must be 0-65535", v)
			}
		default:
			return nil, fmt.Errorf("invalid port value type %T", value)
		}
	}
	if allowed, ok := enumKeys[key]; ok {
		s, _ := value.(string)
		valid := false
		for _, a := range allowed {
			if s == a {
				valid = true
				break
			}
		}
		if !valid {
			return nil, fmt.Errorf("invalid %s %q", key, s)
		}
	}

	if outer, inner, nested := strings.Cut(key, "."); nested {
		return map[string]interface{}{outer: map[string]interface{}{inner: value}}, nil
	}
	return map[string]interface{}{key: value}, nil
}

// Configs fetches the running configuration.
func (c *Client) Configs(ctx context.Context, server types.ServerConfig) (RuntimeConfig, error) {
	body, err := c.get(ctx, server, "/configs", nil)
	if err != nil {
		return RuntimeConfig{}, err
	}
	var cfg RuntimeConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return RuntimeConfig{}, &normalize.ProtocolError{Message: normalize.MsgInvalidFormat, Cause: err}
	}
	return cfg, nil
}

// PatchConfig updates a single runtime setting. Cores reply 204 (or 200 on some
// sing-box builds).
func (c *Client) PatchConfig(ctx context.Context, server types.ServerConfig, key string, value interface{}) error {
	payload, err := ConfigPatch(key, value)
	if err != nil {
		return err
	}
	status, _, err := c.do(ctx, server, http.MethodPatch, "/configs", nil, payload)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent && status != http.StatusOK {
		return normalize.StatusError(status)
	}
	return nil
}

func decodeDelay(body []byte) (int, error) {
	var d struct {
		Delay int `json:"delay"`
	}
	if err := json.Unmarshal(body, &d); err != nil {
		return 0, &normalize.ProtocolError{Message: normalize.MsgInvalidFormat, Cause: err}
	}
	return d.Delay, nil
}
