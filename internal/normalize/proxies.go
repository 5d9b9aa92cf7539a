package normalize

import (
	"encoding/json"
	"sort"
)

// DelayRecord 是一次延迟测试记录
type DelayRecord struct {
	Time  string `json:"time"`
	Delay int    `json:"delay"`
}

// ProxyNode 对应 /proxies 中的一个条目。All 非 nil 时表示这是一个代理组。
type ProxyNode struct {
	Name    string        `json:"name"`
	Type    string        `json:"type"`
	Alive   bool          `json:"alive"`
	History []DelayRecord `json:"history"`
	All     []string      `json:"all,omitempty"`
	Now     string        `json:"now,omitempty"`
}

// IsGroup reports whether the node carries a member list.
func (p ProxyNode) IsGroup() bool { return p.All != nil }

// Delay returns the latest measured delay in ms; 0 means untested or unreachable.
func (p ProxyNode) Delay() int {
	if len(p.History) == 0 {
		return 0
	}
	return p.History[len(p.History)-1].Delay
}

type proxiesResponse struct {
	Proxies map[string]ProxyNode `json:"proxies"`
}

// globalGroup 是 Clash 内置的汇总组, 其 all 列表即内核自己的展示顺序
const globalGroup = "GLOBAL"

// DecodeProxies decodes a /proxies body into a list. Nodes are ordered like the
// GLOBAL group's member list when that group exists, then by name.
func DecodeProxies(body []byte) ([]ProxyNode, error) {
	var resp proxiesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, formatError(err)
	}
	if resp.Proxies == nil {
		return nil, formatError(errMissing("proxies"))
	}
	return OrderProxies(resp.Proxies), nil
}

// OrderProxies flattens the name-keyed map, filling empty names from the key.
func OrderProxies(m map[string]ProxyNode) []ProxyNode {
	rank := make(map[string]int)
	if g, ok := m[globalGroup]; ok {
		for i, name := range g.All {
			if _, seen := rank[name]; !seen {
				rank[name] = i
			}
		}
	}

	out := make([]ProxyNode, 0, len(m))
	for key, node := range m {
		if node.Name == "" {
			node.Name = key
		}
		out = append(out, node)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[out[i].Name]
		rj, jok := rank[out[j].Name]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return out[i].Name < out[j].Name
		}
	})
	return out
}

// Groups keeps only nodes with a member list, preserving order.
func Groups(nodes []ProxyNode) []ProxyNode {
	groups := make([]ProxyNode, 0)
	for _, n := range nodes {
		if n.IsGroup() {
			groups = append(groups, n)
		}
	}
	return groups
}

// Members resolves a group's member names against the full listing. Unknown
// names (e.g. provider nodes not exported by /proxies) are skipped.
func Members(group ProxyNode, nodes []ProxyNode) []ProxyNode {
	index := make(map[string]ProxyNode, len(nodes))
	for _, n := range nodes {
		index[n.Name] = n
	}
	members := make([]ProxyNode, 0, len(group.All))
	for _, name := range group.All {
		if n, ok := index[name]; ok {
			members = append(members, n)
		}
	}
	return members
}

// CurrentDelay returns the delay of the member a group currently routes to.
func CurrentDelay(group ProxyNode, nodes []ProxyNode) int {
	for _, n := range nodes {
		if n.Name == group.Now {
			return n.Delay()
		}
	}
	return 0
}
