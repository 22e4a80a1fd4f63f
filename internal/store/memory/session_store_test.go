package memory

import (
	"context"
	"testing"
	"time"

	"github.com/parusinf/timesheets-parus-bot/internal/models"
	"github.com/parusinf/timesheets-parus-bot/internal/store"
	"github.com/stretchr/testify/require"
)

func TestMemorySessionStore(t *testing.T) {
	ctx := context.Background()

	t.Run("get missing session", func(t *testing.T) {
		st := NewSessionStore(time.Hour)
		_, err := st.Get(ctx, 1)
		require.ErrorIs(t, err, store.ErrSessionNotFound)
	})

	t.Run("save and get", func(t *testing.T) {
		st := NewSessionStore(time.Hour)
		sess := &models.Session{
			IdentityID: 1,
			State:      models.StateAwaitingFullName,
			Pending:    &models.Report{Filename: "t.csv", Text: "a;b"},
		}
		require.NoError(t, st.Save(ctx, sess))

		got, err := st.Get(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, models.StateAwaitingFullName, got.State)
		require.Equal(t, "t.csv", got.Pending.Filename)
		require.False(t, got.ExpiresAt.IsZero())
	})

	t.Run("get returns copy", func(t *testing.T) {
		st := NewSessionStore(0)
		require.NoError(t, st.Save(ctx, &models.Session{IdentityID: 2, State: models.StateAwaitingTaxID}))

		got, err := st.Get(ctx, 2)
		require.NoError(t, err)
		got.State = models.StateReady

		again, err := st.Get(ctx, 2)
		require.NoError(t, err)
		require.Equal(t, models.StateAwaitingTaxID, again.State)
	})

	t.Run("expired session", func(t *testing.T) {
		st := NewSessionStore(time.Nanosecond)
		require.NoError(t, st.Save(ctx, &models.Session{IdentityID: 3}))
		time.Sleep(time.Millisecond)

		_, err := st.Get(ctx, 3)
		require.ErrorIs(t, err, store.ErrSessionExpired)

		n, err := st.DeleteExpired(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		_, err = st.Get(ctx, 3)
		require.ErrorIs(t, err, store.ErrSessionNotFound)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		st := NewSessionStore(0)
		require.NoError(t, st.Save(ctx, &models.Session{IdentityID: 4}))
		require.NoError(t, st.Delete(ctx, 4))
		require.NoError(t, st.Delete(ctx, 4))
	})
}

func TestMemoryUserStore(t *testing.T) {
	ctx := context.Background()
	st := NewUserStore()

	_, err := st.Get(ctx, 42)
	require.ErrorIs(t, err, store.ErrUserNotFound)

	group := "G1"
	require.NoError(t, st.Put(ctx, &models.User{IdentityID: 42, TaxID: "7701234567", GroupCode: &group}))

	got, err := st.Get(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, "G1", *got.GroupCode)
	created := got.CreatedAt

	*got.GroupCode = "changed"
	again, err := st.Get(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, "G1", *again.GroupCode)

	again.GroupCode = nil
	require.NoError(t, st.Put(ctx, again))
	updated, err := st.Get(ctx, 42)
	require.NoError(t, err)
	require.Nil(t, updated.GroupCode)
	require.Equal(t, created, updated.CreatedAt)

	require.NoError(t, st.Delete(ctx, 42))
	_, err = st.Get(ctx, 42)
	require.ErrorIs(t, err, store.ErrUserNotFound)
}
