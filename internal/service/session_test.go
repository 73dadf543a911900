package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vanishmail/backend/internal/storage/memory"
)

func TestSessionService_Establish(t *testing.T) {
	store := memory.NewStore()
	svc := NewSessionService(store, zap.NewNop())

	t.Run("无标识时创建新会话", func(t *testing.T) {
		id, isNew, err := svc.Establish(context.Background(), "")
		require.NoError(t, err)
		assert.True(t, isNew)
		assert.NotEmpty(t, id)

		// 会话已持久化
		session, err := store.GetSession(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, session.ID)
	})

	t.Run("有效标识直接复用", func(t *testing.T) {
		id, _, err := svc.Establish(context.Background(), "")
		require.NoError(t, err)

		same, isNew, err := svc.Establish(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, isNew)
		assert.Equal(t, id, same)
	})

	t.Run("未知标识签发新会话", func(t *testing.T) {
		id, isNew, err := svc.Establish(context.Background(), "forged-session-id")
		require.NoError(t, err)
		assert.True(t, isNew)
		assert.NotEqual(t, "forged-session-id", id)
	})
}
