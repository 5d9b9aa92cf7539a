package normalize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

func errMissing(field string) error {
	return fmt.Errorf("%s field missing", field)
}

// RuleProvider 对应 /providers/rules 中的一个条目
type RuleProvider struct {
	Name        string `json:"name"`
	Behavior    string `json:"behavior"`
	Type        string `json:"type"`
	RuleCount   int    `json:"ruleCount"`
	UpdatedAt   string `json:"updatedAt"`
	Format      string `json:"format,omitempty"`
	VehicleType string `json:"vehicleType"`
}

// SubscriptionInfo 是机场订阅的流量信息 (字段名与内核输出一致，首字母大写)
type SubscriptionInfo struct {
	Upload   int64 `json:"Upload"`
	Download int64 `json:"Download"`
	Total    int64 `json:"Total"`
	Expire   int64 `json:"Expire"`
}

// Used returns uploaded plus downloaded bytes.
func (s SubscriptionInfo) Used() int64 { return s.Upload + s.Download }

// Percentage of the quota consumed; 100 when no total is reported.
func (s SubscriptionInfo) Percentage() float64 {
	if s.Total <= 0 {
		return 100
	}
	return float64(s.Used()) * 100 / float64(s.Total)
}

// ExpiresAt converts Expire (unix seconds); zero time when not set.
func (s SubscriptionInfo) ExpiresAt() time.Time {
	if s.Expire <= 0 {
		return time.Time{}
	}
	return time.Unix(s.Expire, 0)
}

// ProxyProvider 对应 /providers/proxies 中的一个条目
type ProxyProvider struct {
	Name             string            `json:"name"`
	Type             string            `json:"type"`
	VehicleType      string            `json:"vehicleType"`
	Proxies          []ProxyNode       `json:"proxies"`
	TestURL          string            `json:"testUrl,omitempty"`
	SubscriptionInfo *SubscriptionInfo `json:"subscriptionInfo,omitempty"`
	UpdatedAt        string            `json:"updatedAt,omitempty"`
}

// UpdatedTime parses UpdatedAt (RFC 3339, with or without fractional seconds).
func (p ProxyProvider) UpdatedTime() (time.Time, bool) {
	return parseTimestamp(p.UpdatedAt)
}

// UpdatedTime parses UpdatedAt of a rule provider.
func (p RuleProvider) UpdatedTime() (time.Time, bool) {
	return parseTimestamp(p.UpdatedAt)
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IncludeProxyProvider 只保留真正的订阅: HTTP 载体或携带订阅信息的条目。
// 内核为直接写在配置里的节点生成的 "default" 兼容伪 provider 会被排除。
func IncludeProxyProvider(p ProxyProvider) bool {
	return strings.EqualFold(p.VehicleType, "HTTP") || p.SubscriptionInfo != nil
}

type providersResponse[T any] struct {
	Providers map[string]T `json:"providers"`
}

func decodeProviders[T any](body []byte) (map[string]T, error) {
	var resp providersResponse[T]
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, formatError(err)
	}
	if resp.Providers == nil {
		return nil, formatError(errMissing("providers"))
	}
	return resp.Providers, nil
}

// DecodeRuleProviders decodes /providers/rules, sorted by name.
func DecodeRuleProviders(body []byte) ([]RuleProvider, error) {
	m, err := decodeProviders[RuleProvider](body)
	if err != nil {
		return nil, err
	}
	out := make([]RuleProvider, 0, len(m))
	for key, p := range m {
		if p.Name == "" {
			p.Name = key
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DecodeProxyProviders decodes /providers/proxies, applies IncludeProxyProvider
// and sorts by name.
func DecodeProxyProviders(body []byte) ([]ProxyProvider, error) {
	m, err := decodeProviders[ProxyProvider](body)
	if err != nil {
		return nil, err
	}
	out := make([]ProxyProvider, 0, len(m))
	for key, p := range m {
		if p.Name == "" {
			p.Name = key
		}
		if IncludeProxyProvider(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
