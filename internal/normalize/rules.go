package normalize

import "encoding/json"

// RuleEntry 对应 /rules 中的一条规则
type RuleEntry struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Proxy   string `json:"proxy"`
	Size    *int   `json:"size,omitempty"`
}

// Key identifies a rule for list rendering.
func (r RuleEntry) Key() string { return r.Type + r.Payload }

type rulesResponse struct {
	Rules []RuleEntry `json:"rules"`
}

// DecodeRules decodes a /rules body, keeping the server's order.
func DecodeRules(body []byte) ([]RuleEntry, error) {
	var resp rulesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, formatError(err)
	}
	if resp.Rules == nil {
		return nil, formatError(errMissing("rules"))
	}
	return resp.Rules, nil
}

// DuplicateRuleKeys returns keys that occur more than once, in first-seen order.
func DuplicateRuleKeys(rules []RuleEntry) []string {
	seen := make(map[string]int, len(rules))
	var dups []string
	for _, r := range rules {
		k := r.Key()
		seen[k]++
		if seen[k] == 2 {
			dups = append(dups, k)
		}
	}
	return dups
}
