package clashapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"clashdash/internal/normalize"
	"clashdash/internal/shared/types"
)

// CheckStatus 请求 /version 并把结果归类为 ok / unauthorized / error。
// 它从不返回错误: 所有失败都体现在 CheckResult.ErrorMessage 上。
func (c *Client) CheckStatus(ctx context.Context, server types.ServerConfig) types.CheckResult {
	status, body, err := c.do(ctx, server, http.MethodGet, "/version", nil, nil)
	if err != nil {
		return types.CheckResult{Status: types.StatusError, ErrorMessage: ErrorMessage(err)}
	}
	return normalize.CheckVersion(status, body)
}

// Rules fetches /rules.
func (c *Client) Rules(ctx context.Context, server types.ServerConfig) ([]normalize.RuleEntry, error) {
	body, err := c.get(ctx, server, "/rules", nil)
	if err != nil {
		return nil, err
	}
	return normalize.DecodeRules(body)
}

// RuleProviders fetches /providers/rules.
func (c *Client) RuleProviders(ctx context.Context, server types.ServerConfig) ([]normalize.RuleProvider, error) {
	body, err := c.get(ctx, server, "/providers/rules", nil)
	if err != nil {
		return nil, err
	}
	return normalize.DecodeRuleProviders(body)
}

// RefreshRuleProvider asks the core to re-fetch a rule provider; only 204 is success.
func (c *Client) RefreshRuleProvider(ctx context.Context, server types.ServerConfig, name string) error {
	return c.expectNoContent(ctx, server, http.MethodPut, "/providers/rules/"+url.PathEscape(name), nil)
}

// Proxies fetches /proxies as an ordered list.
func (c *Client) Proxies(ctx context.Context, server types.ServerConfig) ([]normalize.ProxyNode, error) {
	body, err := c.get(ctx, server, "/proxies", nil)
	if err != nil {
		return nil, err
	}
	return normalize.DecodeProxies(body)
}

// ProxyGroups is Proxies filtered down to groups; there is no separate endpoint.
func (c *Client) ProxyGroups(ctx context.Context, server types.ServerConfig) ([]normalize.ProxyNode, error) {
	nodes, err := c.Proxies(ctx, server)
	if err != nil {
		return nil, err
	}
	return normalize.Groups(nodes), nil
}

// ProxyProviders fetches /providers/proxies, dropping the pseudo providers.
func (c *Client) ProxyProviders(ctx context.Context, server types.ServerConfig) ([]normalize.ProxyProvider, error) {
	body, err := c.get(ctx, server, "/providers/proxies", nil)
	if err != nil {
		return nil, err
	}
	return normalize.DecodeProxyProviders(body)
}

// RefreshProxyProvider triggers a subscription update of a proxy provider.
func (c *Client) RefreshProxyProvider(ctx context.Context, server types.ServerConfig, name string) error {
	return c.expectNoContent(ctx, server, http.MethodPut, "/providers/proxies/"+url.PathEscape(name), nil)
}

// SelectProxy switches a selector group to one of its members.
func (c *Client) SelectProxy(ctx context.Context, server types.ServerConfig, group, member string) error {
	payload := map[string]string{"name": member}
	return c.expectNoContent(ctx, server, http.MethodPut, "/proxies/"+url.PathEscape(group), payload)
}

// DefaultDelayTestURL is used when the caller passes an empty test URL.
const DefaultDelayTestURL = "http://www.gstatic.com/generate_204"

// ProxyDelay runs a delay test on one proxy. The core answers 408/503 when the
// node times out or is unreachable; both are reported as a delay of 0.
func (c *Client) ProxyDelay(ctx context.Context, server types.ServerConfig, name, testURL string, timeoutMs int) (int, error) {
	if testURL == "" {
		testURL = DefaultDelayTestURL
	}
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}
	q := url.Values{}
	q.Set("url", testURL)
	q.Set("timeout", strconv.Itoa(timeoutMs))

	status, body, err := c.do(ctx, server, http.MethodGet, "/proxies/"+url.PathEscape(name)+"/delay", q, nil)
	if err != nil {
		return 0, err
	}
	switch status {
	case http.StatusOK:
		return decodeDelay(body)
	case http.StatusRequestTimeout, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return 0, nil
	default:
		return 0, normalize.StatusError(status)
	}
}
