package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zhouzirui/pipbot/internal/model/chat"
	"github.com/zhouzirui/pipbot/internal/model/mood"
)

// MemoryStore 将对话轮次保存在进程内存中，适用于测试与单机演示。
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	turns   map[string][]chat.Turn
	mood    *mood.State
	writes  *scopeLocks
	nowFunc func() time.Time
}

// NewMemoryStore 创建空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		turns:   make(map[string][]chat.Turn),
		writes:  newScopeLocks(),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// Append 保存一轮对话，分配 id，并在未设置时间戳时补上。
func (s *MemoryStore) Append(_ context.Context, turn chat.Turn) (chat.Turn, error) {
	if err := turn.Validate(); err != nil {
		return chat.Turn{}, storeErr("append", turn.Scope, err)
	}
	release := s.writes.lock(turn.Scope)
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	turn.ID = s.nextID
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.nowFunc()
	}
	s.turns[turn.Scope] = append(s.turns[turn.Scope], turn)
	return turn, nil
}

// RecentTurns 返回最多 limit 轮，最新的在前。
func (s *MemoryStore) RecentTurns(_ context.Context, scope string, limit int) ([]chat.Turn, error) {
	if err := validateRead(scope, limit); err != nil {
		return nil, storeErr("recent", scope, err)
	}

	s.mu.RLock()
	ordered := newestFirst(s.turns[scope])
	s.mu.RUnlock()

	if len(ordered) > limit {
		ordered = ordered[:limit]
	}
	return ordered, nil
}

// Prune 只保留最新的 keep 轮。
func (s *MemoryStore) Prune(_ context.Context, scope string, keep int) (int64, error) {
	if err := validatePrune(scope, keep); err != nil {
		return 0, storeErr("prune", scope, err)
	}
	release := s.writes.lock(scope)
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := newestFirst(s.turns[scope])
	if len(ordered) <= keep {
		return 0, nil
	}
	deleted := int64(len(ordered) - keep)
	kept := ordered[:keep]
	if keep == 0 {
		delete(s.turns, scope)
		return deleted, nil
	}
	// 重新按时间正序保存，追加保持廉价。
	sort.SliceStable(kept, func(i, j int) bool { return kept[j].Newer(kept[i]) })
	s.turns[scope] = kept
	return deleted, nil
}

// Scopes 列出至少有一轮对话的 scope。
func (s *MemoryStore) Scopes(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scopes := make([]string, 0, len(s.turns))
	for scope, turns := range s.turns {
		if len(turns) > 0 {
			scopes = append(scopes, scope)
		}
	}
	sort.Strings(scopes)
	return scopes, nil
}

// LoadMood 返回已保存的心情记录。
func (s *MemoryStore) LoadMood(_ context.Context) (mood.State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mood == nil {
		return mood.State{}, false, nil
	}
	return *s.mood, true, nil
}

// SaveMood 覆盖心情记录。
func (s *MemoryStore) SaveMood(_ context.Context, state mood.State) error {
	release := s.writes.lock(moodScope)
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	state.Score = mood.Clamp(state.Score)
	s.mood = &state
	return nil
}

// Close 无操作。
func (s *MemoryStore) Close() error { return nil }

func newestFirst(turns []chat.Turn) []chat.Turn {
	ordered := make([]chat.Turn, len(turns))
	copy(ordered, turns)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Newer(ordered[j]) })
	return ordered
}
