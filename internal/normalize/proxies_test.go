package normalize

import (
	"errors"
	"reflect"
	"testing"
)

func names(nodes []ProxyNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}

func TestGroups(t *testing.T) {
	nodes := []ProxyNode{
		{Name: "A", All: nil},
		{Name: "B", All: []string{"x", "y"}},
	}
	got := Groups(nodes)
	if len(got) != 1 || got[0].Name != "B" {
		t.Fatalf("Groups() = %+v", got)
	}
	if !reflect.DeepEqual(got[0].All, []string{"x", "y"}) {
		t.Errorf("group members lost: %v", got[0].All)
	}
}

const proxiesBody = `{"proxies":{
	"DIRECT":{"name":"DIRECT","type":"Direct","alive":true,"history":[]},
	"HK-01":{"name":"HK-01","type":"Shadowsocks","alive":true,"history":[{"time":"t1","delay":80},{"time":"t2","delay":120}]},
	"JP-01":{"name":"JP-01","type":"Vmess","alive":false,"history":[{"time":"t1","delay":0}]},
	"Proxy":{"name":"Proxy","type":"Selector","all":["HK-01","JP-01","missing"],"now":"HK-01","history":[]},
	"Empty":{"name":"Empty","type":"Selector","all":[],"history":[]},
	"GLOBAL":{"name":"GLOBAL","type":"Selector","all":["Proxy","JP-01","HK-01","DIRECT"],"now":"Proxy","history":[]}
}}`

func TestDecodeProxies(t *testing.T) {
	nodes, err := DecodeProxies([]byte(proxiesBody))
	if err != nil {
		t.Fatalf("DecodeProxies() error = %v", err)
	}
	want := []string{"Proxy", "JP-01", "HK-01", "DIRECT", "Empty", "GLOBAL"}
	if got := names(nodes); !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}

	groups := Groups(nodes)
	if got := names(groups); !reflect.DeepEqual(got, []string{"Proxy", "Empty", "GLOBAL"}) {
		t.Errorf("groups = %v", got)
	}

	var hk ProxyNode
	for _, n := range nodes {
		if n.Name == "HK-01" {
			hk = n
		}
	}
	if hk.Delay() != 120 {
		t.Errorf("HK-01 delay = %d, want latest 120", hk.Delay())
	}

	members := Members(groups[0], nodes)
	if got := names(members); !reflect.DeepEqual(got, []string{"HK-01", "JP-01"}) {
		t.Errorf("Members() = %v", got)
	}
	if d := CurrentDelay(groups[0], nodes); d != 120 {
		t.Errorf("CurrentDelay() = %d", d)
	}
}

func TestDecodeProxies_NameFromKey(t *testing.T) {
	nodes, err := DecodeProxies([]byte(`{"proxies":{"b":{"type":"Direct"},"a":{"type":"Reject"}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := names(nodes); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("names = %v", got)
	}
}

func TestDecodeProxies_Malformed(t *testing.T) {
	for _, body := range []string{`{}`, `{"proxies":[]}`, `nope`} {
		_, err := DecodeProxies([]byte(body))
		var perr *ProtocolError
		if !errors.As(err, &perr) {
			t.Errorf("DecodeProxies(%s) error = %v, want *ProtocolError", body, err)
		}
	}
}

func TestDelayBuckets(t *testing.T) {
	tests := []struct {
		delay int
		want  DelayBucket
	}{
		{0, DelayUnreachable},
		{-1, DelayUnreachable},
		{1, DelayLow},
		{150, DelayLow},
		{151, DelayMedium},
		{300, DelayMedium},
		{301, DelayHigh},
		{5000, DelayHigh},
	}
	for _, tt := range tests {
		if got := BucketOf(tt.delay); got != tt.want {
			t.Errorf("BucketOf(%d) = %s, want %s", tt.delay, got, tt.want)
		}
	}
}

func TestCountDelays(t *testing.T) {
	mk := func(d int) ProxyNode { return ProxyNode{History: []DelayRecord{{Delay: d}}} }
	stats := CountDelays([]ProxyNode{mk(0), mk(10), mk(150), mk(200), mk(999), {}})
	want := DelayStats{Low: 2, Medium: 1, High: 1, Unreachable: 2}
	if stats != want {
		t.Errorf("CountDelays() = %+v, want %+v", stats, want)
	}
	if stats.Total() != 6 {
		t.Errorf("Total() = %d", stats.Total())
	}
}
