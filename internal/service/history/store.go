// Package history 为每个会话 scope 提供有界、只追加的对话记录，以及唯一的心情记录。
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zhouzirui/pipbot/internal/model/chat"
	"github.com/zhouzirui/pipbot/internal/model/mood"
)

// ErrStore 标记所有存储故障。
var ErrStore = errors.New("history store failure")

// ErrInvalidArgument 标记调用方错误，例如空 scope 或负数上限。
var ErrInvalidArgument = errors.New("invalid argument")

// StoreError 包装后端错误并记录失败的操作。
type StoreError struct {
	Op    string
	Scope string
	Err   error
}

func (e *StoreError) Error() string {
	if e.Scope != "" {
		return fmt.Sprintf("history %s %s: %v", e.Op, e.Scope, e.Err)
	}
	return fmt.Sprintf("history %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStore, e.Err} }

func storeErr(op, scope string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Scope: scope, Err: err}
}

// Store 是上下文存储的接口约定。
//
// RecentTurns 最多返回 limit 轮，最新的在前（按时间戳降序，相同时按 id 降序）。
// 没有记录的 scope 返回空切片而不是错误。
//
// Prune 只保留 scope 中最新的 keep 轮。读取与裁剪是两个步骤：两者之间追加的记录
// 可能被裁剪掉，这是已接受的限制；同一 scope 的写操作仍然串行，不会交错。
type Store interface {
	Append(ctx context.Context, turn chat.Turn) (chat.Turn, error)
	RecentTurns(ctx context.Context, scope string, limit int) ([]chat.Turn, error)
	Prune(ctx context.Context, scope string, keep int) (int64, error)
	Scopes(ctx context.Context) ([]string, error)
	MoodRepository
	Close() error
}

// MoodRepository 持久化唯一的心情记录。
type MoodRepository interface {
	// LoadMood 从未保存过时返回 ok=false。
	LoadMood(ctx context.Context) (mood.State, bool, error)
	SaveMood(ctx context.Context, state mood.State) error
}

const moodScope = "\x00mood"

// scopeLocks 按 scope 串行化写操作。
type scopeLocks struct {
	mu    sync.Mutex
	locks map[string]*scopeLock
}

type scopeLock struct {
	mu   sync.Mutex
	refs int
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{locks: make(map[string]*scopeLock)}
}

// lock 获取 scope 的互斥锁并返回释放函数。空闲条目会被删除，map 不会无限增长。
func (l *scopeLocks) lock(scope string) func() {
	l.mu.Lock()
	entry, ok := l.locks[scope]
	if !ok {
		entry = &scopeLock{}
		l.locks[scope] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, scope)
		}
		l.mu.Unlock()
	}
}

func validateRead(scope string, limit int) error {
	if scope == "" {
		return fmt.Errorf("%w: scope is required", ErrInvalidArgument)
	}
	if limit < 0 {
		return fmt.Errorf("%w: limit %d", ErrInvalidArgument, limit)
	}
	return nil
}

func validatePrune(scope string, keep int) error {
	if scope == "" {
		return fmt.Errorf("%w: scope is required", ErrInvalidArgument)
	}
	if keep < 0 {
		return fmt.Errorf("%w: keep %d", ErrInvalidArgument, keep)
	}
	return nil
}
