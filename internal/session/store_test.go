package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/feedback-ai/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateRegistersEmptySession(t *testing.T) {
	t.Parallel()

	s := NewStore()
	got := s.GetOrCreate("abc")
	assert.Equal(t, "abc", got.Key)
	assert.Empty(t, got.Turns)
	assert.Equal(t, 1, s.Len())

	s.GetOrCreate("abc")
	assert.Equal(t, 1, s.Len())
}

func TestAppendTurnKeepsNewestWindow(t *testing.T) {
	t.Parallel()

	s := NewStore()
	for window := 1; window <= 4; window++ {
		key := fmt.Sprintf("w%d", window)
		var all []domain.Turn
		for i := 0; i < 9; i++ {
			turn := domain.HumanTurn(fmt.Sprintf("m%d", i))
			all = append(all, turn)
			got := s.AppendTurn(key, window, turn)

			require.LessOrEqual(t, len(got.Turns), window)
			start := len(all) - window
			if start < 0 {
				start = 0
			}
			assert.Equal(t, all[start:], got.Turns)
		}
	}
}

func TestAppendTurnMostRecentWindowWins(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.AppendTurn("k", 5, domain.HumanTurn("a"), domain.AssistantTurn("b"), domain.HumanTurn("c"))
	got := s.AppendTurn("k", 2, domain.AssistantTurn("d"))
	assert.Equal(t, []domain.Turn{domain.HumanTurn("c"), domain.AssistantTurn("d")}, got.Turns)
}

func TestAppendTurnDefaultWindow(t *testing.T) {
	t.Parallel()

	s := NewStore(WithDefaultWindow(2))
	got := s.AppendTurn("k", 0, domain.HumanTurn("a"), domain.AssistantTurn("b"), domain.HumanTurn("c"))
	assert.Len(t, got.Turns, 2)
	assert.Equal(t, 2, s.DefaultWindow())
}

func TestSnapshotsAreCopies(t *testing.T) {
	t.Parallel()

	s := NewStore()
	got := s.AppendTurn("k", 3, domain.HumanTurn("a"))
	got.Turns[0].Content = "mutated"

	again, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, "a", again.Turns[0].Content)
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	s := NewStore(WithCapacity(2))
	s.GetOrCreate("a")
	s.GetOrCreate("b")
	s.GetOrCreate("a") // a becomes most recent
	s.GetOrCreate("c")

	assert.Equal(t, 2, s.Len())
	_, ok := s.Get("b")
	assert.False(t, ok)
	_, ok = s.Get("a")
	assert.True(t, ok)
}

func TestCapacityNeverEvictsLeasedSession(t *testing.T) {
	t.Parallel()

	s := NewStore(WithCapacity(1))
	lease, err := s.Acquire(context.Background(), "held")
	require.NoError(t, err)

	s.GetOrCreate("other")
	_, ok := s.Get("held")
	assert.True(t, ok)

	lease.Append(3, domain.HumanTurn("x"))
	lease.Release()
	lease.Release()

	held, ok := s.Get("held")
	require.True(t, ok)
	assert.Len(t, held.Turns, 1)
}

func TestSweepRemovesIdleSessions(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	s := NewStore(WithTTL(time.Minute), WithClock(clock))
	s.GetOrCreate("old")
	advance(2 * time.Minute)
	s.GetOrCreate("fresh")

	lease, err := s.Acquire(context.Background(), "busy")
	require.NoError(t, err)
	advance(2 * time.Minute)

	// old and fresh are both past the TTL now; busy is leased.
	assert.Equal(t, 2, s.Sweep())
	assert.Equal(t, 1, s.Len())
	lease.Release()
}

func TestAcquireSerializesSameKey(t *testing.T) {
	t.Parallel()

	s := NewStore()
	const workers = 20

	var wg sync.WaitGroup
	var mu sync.Mutex
	active, maxActive := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lease, err := s.Acquire(context.Background(), "shared")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			defer lease.Release()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			lease.Append(100, domain.HumanTurn(fmt.Sprintf("m%d", i)))
			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
	got, ok := s.Get("shared")
	require.True(t, ok)
	assert.Len(t, got.Turns, workers)
}

func TestAcquireDifferentKeysDoNotBlock(t *testing.T) {
	t.Parallel()

	s := NewStore()
	first, err := s.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer first.Release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	second, err := s.Acquire(ctx, "b")
	require.NoError(t, err)
	second.Release()
}

func TestAcquireHonoursCancellation(t *testing.T) {
	t.Parallel()

	s := NewStore()
	held, err := s.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, "k")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	held.Release()
	again, err := s.Acquire(context.Background(), "k")
	require.NoError(t, err)
	again.Release()
	assert.True(t, s.Delete("k"))
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	s := NewStore(WithTTL(time.Nanosecond))
	s.GetOrCreate("a")

	ctx, cancel := context.WithCancel(context.Background())
	s.Run(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
}

func TestKeys(t *testing.T) {
	t.Parallel()

	k := NewKey()
	assert.Len(t, k, 32)
	assert.NotEqual(t, k, NewKey())

	got, ok := SanitizeKey("  abc-123  ")
	assert.True(t, ok)
	assert.Equal(t, "abc-123", got)

	_, ok = SanitizeKey("has space")
	assert.False(t, ok)
	_, ok = SanitizeKey("")
	assert.False(t, ok)
}
