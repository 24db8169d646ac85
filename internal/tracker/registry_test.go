package tracker

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	papers := New("papers", newGatedTransport(), WithLogger(quietLogger()))
	users := New("users", newGatedTransport(), WithLogger(quietLogger()))

	require.NoError(t, reg.Register(users))
	require.NoError(t, reg.Register(papers))

	err := reg.Register(New("papers", newGatedTransport(), WithLogger(quietLogger())))
	var pe *ProgrammerError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrCodeDuplicateArea, pe.Code)

	assert.Equal(t, []string{"papers", "users"}, reg.Names())

	got, ok := reg.Area("papers")
	require.True(t, ok)
	assert.Same(t, papers, got)

	_, ok = reg.Area("reviews")
	assert.False(t, ok)
}

func TestRegistry_AreasAreIsolated(t *testing.T) {
	papersTransport := newGatedTransport()
	usersTransport := newGatedTransport()
	reg := NewRegistry()
	papers := New("papers", papersTransport, WithLogger(quietLogger()))
	users := New("users", usersTransport, WithLogger(quietLogger()))
	require.NoError(t, reg.Register(papers))
	require.NoError(t, reg.Register(users))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- reg.Run(ctx) }()

	a, err := papers.Dispatch(MethodGet, "/me", nil)
	require.NoError(t, err)
	b, err := users.Dispatch(MethodGet, "/me", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "same signature in two areas yields two records")

	papersTransport.next(t).resolve(t, http.StatusOK, "paper")
	usersTransport.next(t).resolve(t, http.StatusOK, "user")
	assert.Equal(t, "paper", await(t, papers, a).Result)
	assert.Equal(t, "user", await(t, users, b).Result)

	assert.Equal(t, map[string]int{"papers": 1, "users": 1}, reg.SweepAll())
	assert.Zero(t, papers.Len())
	assert.Zero(t, users.Len())

	cancel()
	assert.NoError(t, <-errc, "cancellation is a clean stop")
	require.NoError(t, reg.Close(context.Background()))
}

func TestRegistry_CloseStopsRun(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(New("papers", newGatedTransport(), WithLogger(quietLogger()))))

	errc := make(chan error, 1)
	go func() { errc <- reg.Run(context.Background()) }()

	require.NoError(t, reg.Close(context.Background()))
	assert.NoError(t, <-errc)
}
