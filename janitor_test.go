package freshcache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/bool64/stats"
	"github.com/stretchr/testify/assert"
)

func TestExpirableMap_janitor(t *testing.T) {
	ctx := context.Background()
	st := stats.TrackerMock{}
	c := NewExpirableMap[int](Config{
		Stats:                    &st,
		TimeToLive:               time.Millisecond,
		DeleteExpiredAfter:       5 * time.Millisecond,
		DeleteExpiredJobInterval: 2 * time.Millisecond,
	})
	defer c.Close()

	for i := 0; i < 10; i++ {
		_, _, err := c.GetOrFetch(ctx, "key"+strconv.Itoa(i), func(_ context.Context) (int, bool, error) {
			return i, true, nil
		})
		assert.NoError(t, err)
	}

	assert.Equal(t, 10, c.Len())

	// Entries expired longer than DeleteExpiredAfter ago are pruned
	// together with their locks.
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.state.Load().locks.Len())
	assert.Equal(t, 10, st.Int(MetricEvict))
}

func TestExpirableMap_janitor_inFlight(t *testing.T) {
	ctx := context.Background()
	c := NewExpirableMap[string](Config{
		TimeToLive:               time.Millisecond,
		DeleteExpiredAfter:       2 * time.Millisecond,
		DeleteExpiredJobInterval: time.Millisecond,
	})
	defer c.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)

		v, found, err := c.GetOrFetch(ctx, "key", func(_ context.Context) (string, bool, error) {
			close(started)
			<-release

			return "value", true, nil
		})
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "value", v)
	}()

	<-started

	// Janitor passes run while the fetch is in flight, the busy key survives.
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 1, c.Len())

	close(release)
	<-done

	v, found := c.Peek("key")
	assert.True(t, found)
	assert.Equal(t, "value", v)
}

func TestExpirableMap_janitor_concurrentRefresh(t *testing.T) {
	ctx := context.Background()
	c := NewExpirableMap[int](Config{
		TimeToLive:               time.Minute,
		DeleteExpiredAfter:       time.Hour,
		DeleteExpiredJobInterval: time.Hour,
	})
	defer c.Close()

	_, _, err := c.GetOrFetch(ctx, "key", func(_ context.Context) (int, bool, error) {
		return 1, true, nil
	})
	assert.NoError(t, err)

	reg := c.state.Load()
	expirationBoundary := time.Now().Add(-c.config.DeleteExpiredAfter)

	// Backdate the stored state beyond the deletion boundary, the cleaner
	// scan would pick this key up.
	sl, found := reg.slots.Load("key")
	assert.True(t, found)

	ss := *sl.data.Load()
	ss.refreshedAt = time.Now().Add(-2 * c.config.DeleteExpiredAfter)
	sl.data.Store(&ss)
	assert.True(t, c.pruneable(sl, expirationBoundary))

	// A forced refresh replaces the slot object under the key after the scan
	// visited it, the prune decision must land on the current slot and keep
	// the key.
	_, _, err = c.GetOrFetchForced(ctx, "key", true, func(_ context.Context) (int, bool, error) {
		return 2, true, nil
	})
	assert.NoError(t, err)

	assert.Equal(t, 0, c.prune(reg, "key", expirationBoundary))

	v, found := c.Peek("key")
	assert.True(t, found)
	assert.Equal(t, 2, v)

	// Without a refresh in between the same decision deletes the key and its
	// lock.
	sl, found = reg.slots.Load("key")
	assert.True(t, found)

	ss = *sl.data.Load()
	ss.refreshedAt = time.Now().Add(-2 * c.config.DeleteExpiredAfter)
	sl.data.Store(&ss)

	assert.Equal(t, 1, c.prune(reg, "key", expirationBoundary))

	_, found = c.Peek("key")
	assert.False(t, found)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, reg.locks.Len())
}

func TestExpirableMap_reportItemsCount(t *testing.T) {
	ctx := context.Background()
	st := stats.TrackerMock{}
	c := NewExpirableMap[int](Config{
		Stats:                    &st,
		ItemsCountReportInterval: 5 * time.Millisecond,
	})
	defer c.Close()

	for i := 0; i < 3; i++ {
		_, _, err := c.GetOrFetch(ctx, "key"+strconv.Itoa(i), func(_ context.Context) (int, bool, error) {
			return i, true, nil
		})
		assert.NoError(t, err)
	}

	time.Sleep(12 * time.Millisecond)

	assert.Equal(t, 3, st.Int(MetricItems))
}

func TestExpirableMap_Close(t *testing.T) {
	c := NewExpirableMap[int](Config{
		DeleteExpiredAfter: time.Minute,
	})

	c.Close()
	assert.NotPanics(t, c.Close)
}
