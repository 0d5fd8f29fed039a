package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMaintainerRunOncePrunesEveryScope(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "a", 5)
	seed(t, s, "b", 1)

	m := NewMaintainer(s, 2, zap.NewNop())
	deleted, err := m.RunOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)

	turns, err := s.RecentTurns(context.Background(), "a", 10)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestMaintainerStartRejectsBadSchedule(t *testing.T) {
	m := NewMaintainer(NewMemoryStore(), 2, nil)
	assert.Error(t, m.Start("not a cron expression"))

	require.NoError(t, m.Start("@every 1h"))
	m.Stop()
}
