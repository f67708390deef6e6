package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/memohai/wadesk/internal/store/storetest"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc := NewService(nil, storetest.NewSQLite(t))
	svc.cost = bcrypt.MinCost
	return svc
}

func TestCreateAndAuthenticate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t)

	a, err := svc.Create(ctx, CreateAgentRequest{Username: "amy", Password: "correct horse"})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "amy", a.DisplayName)
	assert.True(t, a.Active)

	_, err = svc.Create(ctx, CreateAgentRequest{Username: "amy", Password: "another one"})
	require.ErrorIs(t, err, ErrUsernameTaken)

	got, err := svc.Authenticate(ctx, "amy", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = svc.Authenticate(ctx, "amy", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "nobody", "x")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestInactiveAgentCannotLogIn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t)
	inactive := false

	_, err := svc.Create(ctx, CreateAgentRequest{Username: "bob", Password: "password1", Active: &inactive})
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, "bob", "password1")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	active, err := svc.List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestListAndDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t)

	var ids []string
	for _, name := range []string{"first", "second", "third"} {
		a, err := svc.Create(ctx, CreateAgentRequest{Username: name, Password: "password1"})
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}
	list, err := svc.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, a := range list {
		assert.Equal(t, ids[i], a.ID)
	}

	require.NoError(t, svc.Delete(ctx, ids[1]))
	_, err = svc.Get(ctx, ids[1])
	require.True(t, errors.Is(err, ErrAgentNotFound))
	require.ErrorIs(t, svc.Delete(ctx, ids[1]), ErrAgentNotFound)
}

func TestCreateRejectsEmptyCredentials(t *testing.T) {
	t.Parallel()
	_, err := newTestService(t).Create(context.Background(), CreateAgentRequest{Username: " "})
	require.ErrorIs(t, err, ErrInvalidRequest)
}
