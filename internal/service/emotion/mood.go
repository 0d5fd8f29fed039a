package emotion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zhouzirui/pipbot/internal/model/mood"
)

// MoodStore 持久化共享的心情记录。
type MoodStore interface {
	LoadMood(ctx context.Context) (mood.State, bool, error)
	SaveMood(ctx context.Context, state mood.State) error
}

// MoodKeeper 串行化心情记录的读-改-写。写同一存储的所有选择器必须共用一个 keeper。
type MoodKeeper struct {
	mu    sync.Mutex
	store MoodStore
}

func NewMoodKeeper(store MoodStore) *MoodKeeper {
	return &MoodKeeper{store: store}
}

// Nudge 将 delta 累加到持久化的分值上，并限制在合法区间内。
// Label 与 Day 属于每日策略，原样保留。
func (k *MoodKeeper) Nudge(ctx context.Context, delta int, now time.Time) (mood.State, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	state, _, err := k.store.LoadMood(ctx)
	if err != nil {
		return mood.State{}, fmt.Errorf("load mood: %w", err)
	}
	if delta == 0 {
		return state, nil
	}

	state.Score = mood.Clamp(state.Score + delta)
	state.UpdatedAt = now
	if err := k.store.SaveMood(ctx, state); err != nil {
		return mood.State{}, fmt.Errorf("save mood: %w", err)
	}
	return state, nil
}

// Daily 返回当天的心情描述，每天首次调用时用 pick 抽取新的描述。
func (k *MoodKeeper) Daily(ctx context.Context, now time.Time, pick func() string) (mood.State, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	state, _, err := k.store.LoadMood(ctx)
	if err != nil {
		return mood.State{}, fmt.Errorf("load mood: %w", err)
	}

	today := mood.DayKey(now)
	if state.Day == today && state.Label != "" {
		return state, nil
	}

	state.Day = today
	state.Label = pick()
	state.UpdatedAt = now
	if err := k.store.SaveMood(ctx, state); err != nil {
		return mood.State{}, fmt.Errorf("save mood: %w", err)
	}
	return state, nil
}
