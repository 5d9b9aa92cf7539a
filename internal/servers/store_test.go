package servers

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"clashdash/internal/shared/types"
	"clashdash/internal/storage"
)

func newServer(id, host string) types.ServerConfig {
	return types.ServerConfig{ID: id, Name: id, Host: host, Port: "9090", Secret: "s", Status: types.StatusUnknown}
}

func TestIsUsable(t *testing.T) {
	tests := []struct {
		host, port, secret string
		want               bool
	}{
		{"h", "1", "s", true},
		{"", "1", "s", false},
		{"h", "", "s", false},
		{"h", "1", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		c := types.ServerConfig{Host: tt.host, Port: tt.port, Secret: tt.secret}
		if got := c.IsUsable(); got != tt.want {
			t.Errorf("IsUsable(%q,%q,%q) = %v, want %v", tt.host, tt.port, tt.secret, got, tt.want)
		}
		if gotErr := Validate(c) == nil; gotErr != tt.want {
			t.Errorf("Validate(%q,%q,%q) nil = %v, want %v", tt.host, tt.port, tt.secret, gotErr, tt.want)
		}
	}
}

func TestStore_AddIsAdvisory(t *testing.T) {
	s := NewStore(storage.NewMemoryKV())

	added, err := s.Add(types.ServerConfig{Host: "10.0.0.1"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Add() error = %v, want *ValidationError", err)
	}
	if !reflect.DeepEqual(verr.Missing, []string{"port", "secret"}) {
		t.Errorf("Missing = %v", verr.Missing)
	}
	if added.ID == "" {
		t.Error("Add() did not assign an ID")
	}
	if added.Status != types.StatusUnknown {
		t.Errorf("Status = %q, want unknown", added.Status)
	}
	if got := s.List(); len(got) != 1 || got[0].ID != added.ID {
		t.Errorf("incomplete config was not stored: %+v", got)
	}
}

func TestStore_OrderUpdateDelete(t *testing.T) {
	kv := storage.NewMemoryKV()
	s := NewStore(kv)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Add(newServer(id, id+".lan")); err != nil {
			t.Fatalf("Add(%s) error = %v", id, err)
		}
	}

	b := newServer("b", "changed.lan")
	s.Update(b)
	s.Update(newServer("zzz", "ghost")) // ignored
	s.Delete("a")
	s.Delete("nope") // ignored

	got := s.List()
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("List() = %+v", got)
	}
	if got[0].Host != "changed.lan" {
		t.Errorf("Update not applied: %+v", got[0])
	}

	// Every mutation is persisted synchronously.
	reloaded := NewStore(kv)
	if !reflect.DeepEqual(reloaded.List(), got) {
		t.Errorf("persisted list = %+v, want %+v", reloaded.List(), got)
	}
}

func TestStore_ListIsACopy(t *testing.T) {
	s := NewStore(storage.NewMemoryKV())
	s.Add(newServer("a", "h"))
	l := s.List()
	l[0].Host = "mutated"
	if got, _ := s.Get("a"); got.Host != "h" {
		t.Errorf("List() leaked internal slice, host = %q", got.Host)
	}
}

func quickFlags(s *Store) []bool {
	var out []bool
	for _, srv := range s.List() {
		out = append(out, srv.IsQuickLaunch)
	}
	return out
}

func TestStore_SetQuickLaunch(t *testing.T) {
	s := NewStore(storage.NewMemoryKV())
	for _, id := range []string{"a", "b", "c"} {
		s.Add(newServer(id, id))
	}

	s.SetQuickLaunch("a")
	if got := quickFlags(s); !reflect.DeepEqual(got, []bool{true, false, false}) {
		t.Fatalf("after a: %v", got)
	}
	s.SetQuickLaunch("c")
	if got := quickFlags(s); !reflect.DeepEqual(got, []bool{false, false, true}) {
		t.Fatalf("after c: %v", got)
	}
	if q, ok := s.QuickLaunch(); !ok || q.ID != "c" {
		t.Errorf("QuickLaunch() = %v, %v", q.ID, ok)
	}
	s.SetQuickLaunch("c")
	if got := quickFlags(s); !reflect.DeepEqual(got, []bool{false, false, false}) {
		t.Fatalf("toggle c off: %v", got)
	}
	if _, ok := s.QuickLaunch(); ok {
		t.Error("QuickLaunch() should be empty after toggling off")
	}
}

func TestStore_SetQuickLaunchDoubleToggleIsIdentity(t *testing.T) {
	tests := []struct {
		name   string
		preset string
		target string
	}{
		{"none set", "", "a"},
		{"none set other", "", "b"},
		{"target already set", "b", "b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(storage.NewMemoryKV())
			s.Add(newServer("a", "a"))
			s.Add(newServer("b", "b"))
			if tt.preset != "" {
				s.SetQuickLaunch(tt.preset)
			}
			before := quickFlags(s)
			s.SetQuickLaunch(tt.target)
			s.SetQuickLaunch(tt.target)
			if got := quickFlags(s); !reflect.DeepEqual(got, before) {
				t.Errorf("double toggle: %v -> %v", before, got)
			}
		})
	}
}

func TestStore_SelectCurrent(t *testing.T) {
	kv := storage.NewMemoryKV()
	s := NewStore(kv)
	if _, ok := s.Current(); ok {
		t.Fatal("fresh store should have no current server")
	}

	ghost := newServer("ghost", "not-in-list")
	s.Select(ghost)

	reloaded := NewStore(kv)
	cur, ok := reloaded.Current()
	if !ok || cur.ID != "ghost" {
		t.Errorf("Current() = %+v, %v", cur, ok)
	}
}

func TestStore_DecodeFailureYieldsDefaults(t *testing.T) {
	kv := storage.NewMemoryKV()
	kv.Set(ServersKey, []byte(`{"not":"a list"}`))
	kv.Set(CurrentServerKey, []byte(`[1,2,3]`))

	s := NewStore(kv)
	if got := s.List(); len(got) != 0 {
		t.Errorf("List() = %+v, want empty", got)
	}
	if _, ok := s.Current(); ok {
		t.Error("Current() should be absent on decode failure")
	}
}

func TestStore_ApplyResults(t *testing.T) {
	s := NewStore(storage.NewMemoryKV())
	a := newServer("a", "a")
	a.ServerType = types.ServerTypeMeta
	s.Add(a)
	s.Add(newServer("b", "b"))
	s.Select(a)

	s.ApplyResults(map[string]types.CheckResult{
		"a":       {Status: types.StatusOK, Version: "1.18.0"},
		"b":       {Status: types.StatusError, ErrorMessage: "connection timed out"},
		"deleted": {Status: types.StatusOK},
	})

	got, _ := s.Get("a")
	if got.Status != types.StatusOK || got.Version != "1.18.0" || got.ServerType != types.ServerTypeMeta {
		t.Errorf("a = %+v", got)
	}
	got, _ = s.Get("b")
	if got.Status != types.StatusError || got.ErrorMessage != "connection timed out" {
		t.Errorf("b = %+v", got)
	}
	if cur, _ := s.Current(); cur.Status != types.StatusOK {
		t.Errorf("current not refreshed: %+v", cur)
	}
	if len(s.List()) != 2 {
		t.Errorf("ApplyResults must not add records")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	lists := [][]types.ServerConfig{
		{},
		{newServer("a", "a")},
		{
			{ID: "x", Name: "home", Host: "192.168.2.1", Port: "7880", Secret: "s", UseSSL: true,
				IsQuickLaunch: true, Status: types.StatusOK, Version: "v1.18.1", ServerType: types.ServerTypePremium},
			{ID: "y", Host: "h", Status: types.StatusError, ErrorMessage: "network error", InsecureSkipVerify: true},
		},
	}
	for _, in := range lists {
		data, err := EncodeList(in)
		if err != nil {
			t.Fatalf("EncodeList() error = %v", err)
		}
		out, err := DecodeList(data, nil)
		if err != nil {
			t.Fatalf("DecodeList() error = %v", err)
		}
		if !reflect.DeepEqual(in, out) {
			t.Errorf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
		}
	}
}

// gatedKV blocks the next Get of ServersKey once armed, until release is closed.
type gatedKV struct {
	*storage.MemoryKV

	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedKV) arm() {
	g.mu.Lock()
	g.armed = true
	g.entered = make(chan struct{})
	g.release = make(chan struct{})
	g.mu.Unlock()
}

func (g *gatedKV) Get(key string) ([]byte, error) {
	g.mu.Lock()
	hold := g.armed && key == ServersKey
	if hold {
		g.armed = false
	}
	entered, release := g.entered, g.release
	g.mu.Unlock()

	if hold {
		close(entered)
		<-release
	}
	return g.MemoryKV.Get(key)
}

func TestStore_ReloadKeepsConcurrentAdd(t *testing.T) {
	kv := &gatedKV{MemoryKV: storage.NewMemoryKV()}
	s := NewStore(kv)
	s.Add(newServer("a", "10.0.0.1"))

	kv.arm()
	reloaded := make(chan struct{})
	go func() {
		s.Reload()
		close(reloaded)
	}()
	<-kv.entered

	added := make(chan struct{})
	go func() {
		s.Add(newServer("b", "10.0.0.2"))
		close(added)
	}()

	select {
	case <-added:
		t.Fatal("Add completed while Reload was reading the store")
	case <-time.After(50 * time.Millisecond):
	}
	close(kv.release)
	<-reloaded
	<-added

	if got := len(s.List()); got != 2 {
		t.Fatalf("after Reload: %d servers in memory, want 2", got)
	}
	if _, ok := s.Get("b"); !ok {
		t.Fatal("server b added during Reload is missing")
	}

	// the next write must not drop b from storage either
	s.Update(newServer("a", "10.0.0.9"))
	stored, err := DecodeList(kv.MemoryKV.Get(ServersKey))
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 || stored[1].ID != "b" {
		t.Errorf("persisted list = %+v", stored)
	}
}

func TestStore_ReloadPicksUpExternalEdit(t *testing.T) {
	kv := storage.NewMemoryKV()
	s := NewStore(kv)
	s.Add(newServer("a", "10.0.0.1"))

	data, _ := EncodeList([]types.ServerConfig{newServer("x", "10.0.0.5"), newServer("y", "10.0.0.6")})
	if err := kv.Set(ServersKey, data); err != nil {
		t.Fatal(err)
	}
	s.Reload()

	list := s.List()
	if len(list) != 2 || list[0].ID != "x" || list[1].ID != "y" {
		t.Errorf("List() after Reload = %+v", list)
	}
}
