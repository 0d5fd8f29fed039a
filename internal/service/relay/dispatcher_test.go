package relay

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zhouzirui/pipbot/internal/service/ai"
)

func TestDispatcherProcessesEvents(t *testing.T) {
	script := make([]func(ai.Request) (ai.Response, error), 5)
	for i := range script {
		script[i] = answer("pong")
	}
	f := newFixture(t, testPersona(), "", script...)

	d, err := NewDispatcher(DispatcherOptions{Workers: 2})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	states := make([]State, 0, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		ev := mentionEvent(fmt.Sprintf("ping %d", i))
		ev.SenderID = fmt.Sprintf("sender-%d", i)
		err := d.Submit(context.Background(), f.pipeline, ev, f.reply, func(out Outcome, err error) {
			defer wg.Done()
			mu.Lock()
			states = append(states, out.State)
			mu.Unlock()
		})
		require.NoError(t, err)
	}
	wg.Wait()
	require.NoError(t, d.Close(time.Second))

	assert.Len(t, states, 5)
	for _, s := range states {
		assert.Equal(t, StateReplied, s)
	}
}

func TestDispatcherThrottlesFloodingSender(t *testing.T) {
	f := newFixture(t, testPersona(), "", answer("pong"))

	d, err := NewDispatcher(DispatcherOptions{Workers: 1, RatePerMinute: 1, Burst: 1})
	require.NoError(t, err)

	done := make(chan struct{})
	require.NoError(t, d.Submit(context.Background(), f.pipeline, mentionEvent("one"), f.reply, func(Outcome, error) {
		close(done)
	}))
	err = d.Submit(context.Background(), f.pipeline, mentionEvent("two"), f.reply, nil)
	assert.ErrorIs(t, err, ErrThrottled)

	<-done
	require.NoError(t, d.Close(time.Second))
	assert.Len(t, f.completer.calls(), 1)
}

func TestRegistry(t *testing.T) {
	f := newFixture(t, testPersona(), "")
	r := NewRegistry("pip")
	require.NoError(t, r.Register(f.pipeline))
	assert.Error(t, r.Register(f.pipeline))

	p, ok := r.Get("")
	require.True(t, ok)
	assert.Equal(t, "pip", p.Persona().ID)

	_, ok = r.Get("nobody")
	assert.False(t, ok)
	assert.Equal(t, []string{"pip"}, r.IDs())
}

func TestDispatcherCloseReleasesWorkers(t *testing.T) {
	f := newFixture(t, testPersona(), "", answer("pong"))

	d, err := NewDispatcher(DispatcherOptions{Workers: 4})
	require.NoError(t, err)

	done := make(chan struct{})
	require.NoError(t, d.Submit(context.Background(), f.pipeline, mentionEvent("one"), f.reply, func(Outcome, error) {
		close(done)
	}))
	<-done
	f.pipeline.Wait()
	require.NoError(t, d.Close(time.Second))

	goleak.VerifyNone(t, antsDefaultPool()...)
}

func TestDispatcherRejectsWhenQueueIsFull(t *testing.T) {
	release := make(chan struct{})
	blocking := answerAfter(release, "pong")
	f := newFixture(t, testPersona(), "", blocking, blocking)

	d, err := NewDispatcher(DispatcherOptions{Workers: 1, MaxQueued: 1})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	done := func(Outcome, error) { wg.Done() }

	first := mentionEvent("one")
	first.SenderID = "a"
	require.NoError(t, d.Submit(context.Background(), f.pipeline, first, f.reply, done))

	queued := make(chan error, 1)
	go func() {
		second := mentionEvent("two")
		second.SenderID = "b"
		queued <- d.Submit(context.Background(), f.pipeline, second, f.reply, done)
	}()
	require.Eventually(t, func() bool { return d.pool.Waiting() == 1 }, time.Second, 5*time.Millisecond)

	third := mentionEvent("three")
	third.SenderID = "c"
	assert.ErrorIs(t, d.Submit(context.Background(), f.pipeline, third, f.reply, nil), ErrOverloaded)

	close(release)
	require.NoError(t, <-queued)
	wg.Wait()
	require.NoError(t, d.Close(time.Second))
	assert.Len(t, f.completer.calls(), 2)
}

func answerAfter(release <-chan struct{}, text string) func(ai.Request) (ai.Response, error) {
	return func(req ai.Request) (ai.Response, error) {
		<-release
		return ai.Response{Text: text, Model: req.Model}, nil
	}
}
