package history

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Maintainer 按 cron 计划裁剪所有 scope，补上读取时被跳过或丢失的裁剪。
type Maintainer struct {
	store   Store
	retain  int
	timeout time.Duration
	logger  *zap.Logger
	cron    *cron.Cron
}

// NewMaintainer 创建 Maintainer，每个 scope 保留 retain 轮。
func NewMaintainer(store Store, retain int, logger *zap.Logger) *Maintainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Maintainer{
		store:   store,
		retain:  retain,
		timeout: time.Minute,
		logger:  logger.Named("maintenance"),
	}
}

// Start 按标准 cron 表达式或 "@hourly" 之类的描述符调度 RunOnce。
func (m *Maintainer) Start(schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if _, err := m.RunOnce(ctx); err != nil {
			m.logger.Warn("scheduled prune failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule maintenance %q: %w", schedule, err)
	}
	m.cron = c
	c.Start()
	m.logger.Info("maintenance scheduled", zap.String("schedule", schedule), zap.Int("retain", m.retain))
	return nil
}

// Stop 停止调度并等待正在执行的任务。
func (m *Maintainer) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
}

// RunOnce 裁剪所有 scope。单个 scope 失败不影响其余 scope，扫描结束后返回第一个错误。
func (m *Maintainer) RunOnce(ctx context.Context) (int64, error) {
	scopes, err := m.store.Scopes(ctx)
	if err != nil {
		return 0, err
	}

	var (
		total    int64
		firstErr error
	)
	for _, scope := range scopes {
		n, err := m.store.Prune(ctx, scope, m.retain)
		if err != nil {
			m.logger.Warn("prune scope failed", zap.String("scope", scope), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += n
	}
	if total > 0 {
		m.logger.Info("pruned turns", zap.Int64("deleted", total), zap.Int("scopes", len(scopes)))
	}
	return total, firstErr
}
