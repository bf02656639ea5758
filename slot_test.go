package freshcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlot_store(t *testing.T) {
	s := newSlot[int]()

	e := s.entry()
	assert.False(t, e.Present)

	refreshedAt := time.Now()
	s.store(42, refreshedAt, time.Second)

	e = s.entry()
	assert.True(t, e.Present)
	assert.Equal(t, 42, e.Value)
	assert.Equal(t, refreshedAt, e.RefreshedAt)
}

func TestSlot_store_falsy(t *testing.T) {
	s := newSlot[bool]()

	s.store(false, time.Now(), time.Second)

	e := s.entry()
	assert.True(t, e.Present, "falsy value is still a cached value")
	assert.False(t, e.Value)
}

func TestSlot_extend(t *testing.T) {
	s := newSlot[int]()

	s.store(1, time.Now().Add(-time.Hour), time.Second)

	now := time.Now()
	s.extend(now)

	e := s.entry()
	assert.Equal(t, now, e.RefreshedAt)
	assert.Equal(t, 1, e.Value)
}

func TestSlot_expire(t *testing.T) {
	s := newSlot[int]()

	now := time.Now()
	s.store(1, now, time.Minute)
	s.expire(now)

	ss := s.data.Load()
	assert.True(t, now.Sub(ss.refreshedAt) > ss.ttl, "entry reads as expired")
	assert.True(t, ss.present, "value is kept for stale access")
}

func TestSlot_expire_empty(t *testing.T) {
	s := newSlot[int]()

	s.expire(time.Now())

	assert.False(t, s.entry().Present)
}
