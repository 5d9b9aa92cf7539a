package app

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"clashdash/internal/shared/logger"
	"clashdash/internal/shared/types"
)

// StatusChecker 是对单个服务器执行 /version 检查的能力, 由 *clashapi.Client 实现。
type StatusChecker interface {
	CheckStatus(ctx context.Context, server types.ServerConfig) types.CheckResult
}

// Observer 接收每一次检查的结果 (用于指标统计)
type Observer interface {
	ObserveCheck(server types.ServerConfig, res types.CheckResult, elapsed time.Duration)
}

// Checker 对一组服务器做状态检查。
// concurrency <= 1 时逐个检查, 否则最多同时检查 concurrency 个。
type Checker struct {
	client      StatusChecker
	concurrency int

	mu        sync.RWMutex
	observers []Observer
}

// NewChecker 创建一个新的 Checker 实例。
func NewChecker(client StatusChecker, concurrency int) *Checker {
	return &Checker{client: client, concurrency: concurrency}
}

// AddObserver registers o for every subsequent check.
func (c *Checker) AddObserver(o Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

// CheckOne 检查单个服务器。结果永远不是错误: 失败体现在 Status/ErrorMessage 上。
func (c *Checker) CheckOne(ctx context.Context, server types.ServerConfig) types.CheckResult {
	start := time.Now()
	res := c.client.CheckStatus(ctx, server)
	elapsed := time.Since(start)

	logFields := logger.Debug().Str("server_id", server.ID).Str("server", server.DisplayName()).
		Str("status", string(res.Status)).Dur("elapsed", elapsed)
	if res.Status == types.StatusOK {
		logFields.Str("version", res.Version).Str("type", string(res.ServerType)).Msg("StatusCheck: Check passed.")
	} else {
		logFields.Str("error", res.ErrorMessage).Msg("StatusCheck: Check failed.")
	}

	c.mu.RLock()
	for _, o := range c.observers {
		o.ObserveCheck(server, res, elapsed)
	}
	c.mu.RUnlock()
	return res
}

// Check 检查列表中的每一个服务器并返回以 ID 为键的结果。
// 某一个失败不会中止其余的检查, 结果数量总是等于输入数量 (按 ID 去重)。
func (c *Checker) Check(ctx context.Context, list []types.ServerConfig) map[string]types.CheckResult {
	results := make(map[string]types.CheckResult, len(list))

	if c.concurrency <= 1 {
		for _, srv := range list {
			results[srv.ID] = c.CheckOne(ctx, srv)
		}
		return results
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(c.concurrency)
	for _, srv := range list {
		srv := srv
		g.Go(func() error {
			res := c.CheckOne(ctx, srv)
			mu.Lock()
			results[srv.ID] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers never fail
	return results
}
