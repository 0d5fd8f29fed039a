package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/pipbot/internal/model/chat"
	"github.com/zhouzirui/pipbot/internal/model/mood"
)

type backend struct {
	name string
	open func(t *testing.T) Store
}

func backends() []backend {
	out := []backend{
		{name: "memory", open: func(t *testing.T) Store { return NewMemoryStore() }},
		{name: "sqlite", open: func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "context.db"))
			require.NoError(t, err)
			return s
		}},
	}
	// Redis runs only against a real server: PIPBOT_TEST_REDIS_ADDR=localhost:6379.
	if addr := os.Getenv("PIPBOT_TEST_REDIS_ADDR"); addr != "" {
		out = append(out, backend{name: "redis", open: func(t *testing.T) Store {
			prefix := fmt.Sprintf("pipbot-test:%d", time.Now().UnixNano())
			s, err := NewRedisStore(context.Background(), RedisOptions{Addr: addr, Prefix: prefix})
			require.NoError(t, err)
			t.Cleanup(func() { dropPrefix(t, addr, prefix) })
			return s
		}})
	}
	return out
}

func dropPrefix(t *testing.T, addr, prefix string) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	iter := client.Scan(ctx, 0, prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		client.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		t.Logf("cleanup redis keys: %v", err)
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			t.Cleanup(func() { s.Close() })
			fn(t, s)
		})
	}
}

var t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func seed(t *testing.T, s Store, scope string, n int) []chat.Turn {
	t.Helper()
	out := make([]chat.Turn, 0, n)
	for i := 0; i < n; i++ {
		turn, err := s.Append(context.Background(), chat.Turn{
			Scope:     scope,
			SenderID:  "u1",
			UserText:  fmt.Sprintf("msg %d", i),
			BotText:   fmt.Sprintf("reply %d", i),
			Timestamp: t0.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		out = append(out, turn)
	}
	return out
}

func TestEmptyStoreReturnsEmptySlice(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		turns, err := s.RecentTurns(context.Background(), "global", 10)
		require.NoError(t, err)
		assert.Empty(t, turns)
	})
}

func TestRecentTurnsBoundedAndNewestFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seed(t, s, "global", 7)
		seed(t, s, "other", 2)

		for _, limit := range []int{0, 1, 3, 7, 20} {
			turns, err := s.RecentTurns(ctx, "global", limit)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(turns), limit)
			for i := 1; i < len(turns); i++ {
				assert.True(t, turns[i-1].Newer(turns[i]), "limit %d index %d", limit, i)
			}
			for _, turn := range turns {
				assert.Equal(t, "global", turn.Scope)
			}
		}

		turns, err := s.RecentTurns(ctx, "global", 3)
		require.NoError(t, err)
		require.Len(t, turns, 3)
		assert.Equal(t, "msg 6", turns[0].UserText)
		assert.True(t, turns[0].Timestamp.Equal(t0.Add(6*time.Second)))
	})
}

func TestEqualTimestampsTieBreakOnID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		first, err := s.Append(ctx, chat.Turn{Scope: "s", SenderID: "a", UserText: "one", Timestamp: t0})
		require.NoError(t, err)
		second, err := s.Append(ctx, chat.Turn{Scope: "s", SenderID: "a", UserText: "two", Timestamp: t0})
		require.NoError(t, err)
		assert.Greater(t, second.ID, first.ID)

		turns, err := s.RecentTurns(ctx, "s", 2)
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, "two", turns[0].UserText)
	})
}

func TestAppendRejectsEmptyTurn(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := s.Append(context.Background(), chat.Turn{Scope: "s", SenderID: "a"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrStore))
		assert.True(t, errors.Is(err, chat.ErrEmptyTurn))
	})
}

func TestPruneAfterAppendBoundsScope(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seed(t, s, "global", 5)
		seed(t, s, "keep-me", 3)

		for _, keep := range []int{4, 2, 0} {
			_, err := s.Append(ctx, chat.Turn{Scope: "global", SenderID: "u", UserText: "new"})
			require.NoError(t, err)
			_, err = s.Prune(ctx, "global", keep)
			require.NoError(t, err)

			turns, err := s.RecentTurns(ctx, "global", keep+1)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(turns), keep)
		}

		other, err := s.RecentTurns(ctx, "keep-me", 10)
		require.NoError(t, err)
		assert.Len(t, other, 3, "pruning one scope must not touch another")
	})
}

func TestPruneKeepsNewest(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seed(t, s, "global", 5)

		deleted, err := s.Prune(ctx, "global", 2)
		require.NoError(t, err)
		assert.EqualValues(t, 3, deleted)

		turns, err := s.RecentTurns(ctx, "global", 10)
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, "msg 4", turns[0].UserText)
		assert.Equal(t, "msg 3", turns[1].UserText)

		deleted, err = s.Prune(ctx, "global", 10)
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})
}

func TestScopes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		seed(t, s, "channel:b", 1)
		seed(t, s, "channel:a", 1)
		scopes, err := s.Scopes(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"channel:a", "channel:b"}, scopes)
	})
}

func TestMoodRow(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, ok, err := s.LoadMood(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.SaveMood(ctx, mood.State{Score: 3, Label: "cheerful", Day: "2024-06-01", UpdatedAt: t0}))
		require.NoError(t, s.SaveMood(ctx, mood.State{Score: 42, Label: "ecstatic", Day: "2024-06-02", UpdatedAt: t0}))

		st, ok, err := s.LoadMood(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, mood.MaxScore, st.Score)
		assert.Equal(t, "ecstatic", st.Label)
		assert.Equal(t, "2024-06-02", st.Day)
	})
}

func TestConcurrentAppendsAcrossScopes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			scope := fmt.Sprintf("user:%d", i)
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					_, err := s.Append(ctx, chat.Turn{Scope: scope, SenderID: scope, UserText: "hi"})
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		for i := 0; i < 4; i++ {
			turns, err := s.RecentTurns(ctx, fmt.Sprintf("user:%d", i), 100)
			require.NoError(t, err)
			assert.Len(t, turns, 10)
		}
	})
}

func TestInvalidArguments(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.RecentTurns(ctx, "", 1)
		assert.ErrorIs(t, err, ErrStore)
		_, err = s.Prune(ctx, "global", -1)
		assert.ErrorIs(t, err, ErrStore)

		var storeErr *StoreError
		require.ErrorAs(t, err, &storeErr)
		assert.Equal(t, "prune", storeErr.Op)
	})
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "context.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	seed(t, s, "global", 2)
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()

	turns, err := s2.RecentTurns(context.Background(), "global", 5)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}
