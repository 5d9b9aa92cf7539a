package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clashdash/internal/shared/types"
)

// trackingChecker records call order and how many checks ran at the same time.
type trackingChecker struct {
	failID string
	delay  time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu    sync.Mutex
	order []string
}

func (f *trackingChecker) CheckStatus(_ context.Context, server types.ServerConfig) types.CheckResult {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	f.order = append(f.order, server.ID)
	f.mu.Unlock()

	time.Sleep(f.delay)
	if server.ID == f.failID {
		return types.CheckResult{Status: types.StatusError, ErrorMessage: "cannot connect to server"}
	}
	return types.CheckResult{Status: types.StatusOK, Version: "v1.18.0", ServerType: types.ServerTypeMeta}
}

func serverList(n int) []types.ServerConfig {
	list := make([]types.ServerConfig, n)
	for i := range list {
		list[i] = types.ServerConfig{ID: fmt.Sprintf("s%d", i), Host: "10.0.0.1", Port: "9090"}
	}
	return list
}

func TestChecker_SequentialByDefault(t *testing.T) {
	list := serverList(5)
	fake := &trackingChecker{failID: "s2", delay: 10 * time.Millisecond}
	c := NewChecker(fake, 1)

	results := c.Check(context.Background(), list)

	if got := fake.maxInFlight.Load(); got != 1 {
		t.Errorf("checks overlapped: max in flight = %d, want 1", got)
	}
	if len(results) != len(list) {
		t.Fatalf("Check() returned %d results, want %d", len(results), len(list))
	}
	for i, srv := range list {
		if fake.order[i] != srv.ID {
			t.Errorf("check #%d was %s, want %s (list order)", i, fake.order[i], srv.ID)
		}
		want := types.StatusOK
		if srv.ID == "s2" {
			want = types.StatusError
		}
		if results[srv.ID].Status != want {
			t.Errorf("%s status = %s, want %s", srv.ID, results[srv.ID].Status, want)
		}
	}
}

func TestChecker_ZeroConcurrencyIsSequential(t *testing.T) {
	fake := &trackingChecker{delay: 5 * time.Millisecond}
	NewChecker(fake, 0).Check(context.Background(), serverList(4))
	if got := fake.maxInFlight.Load(); got != 1 {
		t.Errorf("max in flight = %d, want 1", got)
	}
}

func TestChecker_BoundedConcurrency(t *testing.T) {
	list := serverList(8)
	fake := &trackingChecker{failID: "s3", delay: 20 * time.Millisecond}
	c := NewChecker(fake, 3)

	results := c.Check(context.Background(), list)

	if got := fake.maxInFlight.Load(); got > 3 {
		t.Errorf("max in flight = %d, want <= 3", got)
	}
	if len(results) != len(list) {
		t.Fatalf("Check() returned %d results, want %d", len(results), len(list))
	}
	if results["s3"].Status != types.StatusError || results["s7"].Status != types.StatusOK {
		t.Errorf("unexpected results: %+v", results)
	}
}

type recordingObserver struct {
	mu  sync.Mutex
	ids []string
}

func (o *recordingObserver) ObserveCheck(server types.ServerConfig, _ types.CheckResult, _ time.Duration) {
	o.mu.Lock()
	o.ids = append(o.ids, server.ID)
	o.mu.Unlock()
}

func TestChecker_NotifiesObservers(t *testing.T) {
	c := NewChecker(&trackingChecker{failID: "s1"}, 1)
	obs := &recordingObserver{}
	c.AddObserver(obs)

	c.Check(context.Background(), serverList(3))
	if len(obs.ids) != 3 {
		t.Errorf("observer saw %v, want 3 checks", obs.ids)
	}
}
