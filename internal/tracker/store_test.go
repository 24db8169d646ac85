package tracker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func pendingRecord(id string, seq int64, method Method, endpoint string) *Record {
	return &Record{
		ID:        id,
		Method:    method,
		Endpoint:  endpoint,
		State:     StatePending,
		CreatedAt: t0,
		Seq:       seq,
	}
}

func TestStore_RegisterAndGet(t *testing.T) {
	s := NewStore("papers")
	assert.Equal(t, "papers", s.Area())

	require.NoError(t, s.Register(pendingRecord("op-1", 1, MethodGet, "/papers")))

	rec, ok := s.Get("op-1")
	require.True(t, ok)
	assert.Equal(t, StatePending, rec.State)
	assert.Equal(t, 1, s.Len())

	_, ok = s.Get("op-2")
	assert.False(t, ok)
}

func TestStore_RegisterRejectsDuplicateAndSettled(t *testing.T) {
	s := NewStore("papers")
	require.NoError(t, s.Register(pendingRecord("op-1", 1, MethodGet, "/papers")))

	err := s.Register(pendingRecord("op-1", 2, MethodGet, "/users"))
	var pe *ProgrammerError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrCodeDuplicateID, pe.Code)
	assert.Equal(t, "op-1", pe.ID)

	settled := pendingRecord("op-2", 3, MethodGet, "/users")
	settled.State = StateFulfilled
	err = s.Register(settled)
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrCodeNotPending, pe.Code)

	rec, _ := s.Get("op-1")
	assert.Equal(t, "/papers", rec.Endpoint, "duplicate must not replace the original")
}

func TestStore_Settle(t *testing.T) {
	s := NewStore("papers")
	require.NoError(t, s.Register(pendingRecord("op-1", 1, MethodGet, "/papers")))

	at := t0.Add(time.Second)
	rec, err := s.Settle("op-1", Fulfilled(200, []any{"a"}), at)
	require.NoError(t, err)
	assert.Equal(t, StateFulfilled, rec.State)
	assert.Equal(t, 200, rec.Status)
	assert.Equal(t, at, rec.SettledAt)

	_, err = s.Settle("op-1", Failed(500, errors.New("boom")), at.Add(time.Second))
	assert.True(t, IsProgrammerError(err))

	rec, _ = s.Get("op-1")
	assert.Equal(t, StateFulfilled, rec.State, "terminal state never changes")
	assert.Equal(t, at, rec.SettledAt)
}

func TestStore_SettleAbsent(t *testing.T) {
	s := NewStore("papers")

	_, err := s.Settle("gone", Fulfilled(200, nil), t0)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, s.Len(), "settling an absent id must not create a record")
}

func TestStore_Remove(t *testing.T) {
	s := NewStore("papers")
	require.NoError(t, s.Register(pendingRecord("op-1", 1, MethodGet, "/papers")))

	rec, ok := s.Remove("op-1")
	require.True(t, ok)
	assert.Equal(t, "op-1", rec.ID)

	_, ok = s.Remove("op-1")
	assert.False(t, ok)
	assert.Zero(t, s.Len())
}

func TestStore_AllOrderedBySeq(t *testing.T) {
	s := NewStore("papers")
	require.NoError(t, s.Register(pendingRecord("c", 3, MethodGet, "/c")))
	require.NoError(t, s.Register(pendingRecord("a", 1, MethodGet, "/a")))
	require.NoError(t, s.Register(pendingRecord("b", 2, MethodGet, "/b")))

	var ids []string
	for _, rec := range s.All() {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}
