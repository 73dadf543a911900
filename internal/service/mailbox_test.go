package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vanishmail/backend/internal/config"
	"vanishmail/backend/internal/storage/memory"
)

func newTestConfig(ttl time.Duration) *config.Config {
	return &config.Config{
		Mailbox: config.MailboxConfig{
			Domains:    []string{"vanish.mail", "test.dev"},
			TTL:        ttl,
			PurgeAfter: 24 * time.Hour,
		},
	}
}

func TestMailboxService_Create(t *testing.T) {
	store := memory.NewStore()
	svc := NewMailboxService(store, newTestConfig(time.Hour), zap.NewNop())

	t.Run("创建邮箱成功", func(t *testing.T) {
		mb, ttlSeconds, err := svc.Create(context.Background(), "session-1")

		require.NoError(t, err)
		assert.NotEmpty(t, mb.ID)
		assert.Equal(t, "session-1", mb.SessionID)
		assert.Len(t, mb.LocalPart, 10)
		for _, ch := range mb.LocalPart {
			assert.Contains(t, localPartAlphabet, string(ch))
		}
		assert.Equal(t, "vanish.mail", mb.Domain)
		assert.Equal(t, mb.LocalPart+"@vanish.mail", mb.Address())
		assert.True(t, mb.IsActive)
		assert.Equal(t, 3600, ttlSeconds)
		assert.Equal(t, time.Hour, mb.ExpiresAt.Sub(mb.CreatedAt))
	})

	t.Run("再次创建会停用之前的邮箱", func(t *testing.T) {
		first, _, err := svc.Create(context.Background(), "session-2")
		require.NoError(t, err)

		second, _, err := svc.Create(context.Background(), "session-2")
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)

		// 旧邮箱已停用
		old, err := store.GetMailbox(context.Background(), first.ID)
		require.NoError(t, err)
		assert.False(t, old.IsActive)

		// 会话当前只解析到新邮箱
		active, err := store.GetActiveMailboxBySession(context.Background(), "session-2", time.Now())
		require.NoError(t, err)
		assert.Equal(t, second.ID, active.ID)
	})
}

func TestMailboxService_CreateAddressConflict(t *testing.T) {
	t.Run("冲突后换随机地址重试", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewMailboxService(store, newTestConfig(time.Hour), zap.NewNop())

		taken, _, err := svc.Create(context.Background(), "occupant")
		require.NoError(t, err)

		attempts := 0
		svc.genLocalPart = func() string {
			attempts++
			if attempts == 1 {
				return taken.LocalPart // 第一次撞上已占用地址
			}
			return "fresh12345"
		}

		mb, _, err := svc.Create(context.Background(), "newcomer")
		require.NoError(t, err)
		assert.Equal(t, "fresh12345", mb.LocalPart)
		assert.Equal(t, 2, attempts)
	})

	t.Run("重试耗尽返回冲突错误", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewMailboxService(store, newTestConfig(time.Hour), zap.NewNop())

		taken, _, err := svc.Create(context.Background(), "occupant")
		require.NoError(t, err)

		attempts := 0
		svc.genLocalPart = func() string {
			attempts++
			return taken.LocalPart
		}

		_, _, err = svc.Create(context.Background(), "newcomer")
		assert.ErrorIs(t, err, ErrAddressConflict)
		assert.Equal(t, createAttempts, attempts)
	})
}

func TestMailboxService_GetOrCreateActive(t *testing.T) {
	store := memory.NewStore()
	svc := NewMailboxService(store, newTestConfig(time.Hour), zap.NewNop())

	t.Run("无邮箱时创建", func(t *testing.T) {
		mb, ttlSeconds, err := svc.GetOrCreateActive(context.Background(), "session-a")
		require.NoError(t, err)
		assert.True(t, mb.IsActive)
		assert.Equal(t, 3600, ttlSeconds)
	})

	t.Run("已有激活邮箱时复用", func(t *testing.T) {
		first, _, err := svc.GetOrCreateActive(context.Background(), "session-b")
		require.NoError(t, err)

		second, ttlSeconds, err := svc.GetOrCreateActive(context.Background(), "session-b")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.LessOrEqual(t, ttlSeconds, 3600)
		assert.Greater(t, ttlSeconds, 3500)
	})
}

func TestMailboxService_Expiry(t *testing.T) {
	store := memory.NewStore()
	svc := NewMailboxService(store, newTestConfig(60*time.Second), zap.NewNop())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	svc.now = func() time.Time { return current }

	mb, _, err := svc.Create(context.Background(), "session-exp")
	require.NoError(t, err)

	t.Run("过期前地址可解析", func(t *testing.T) {
		resolved, err := svc.ResolveActiveByAddress(context.Background(), mb.LocalPart, mb.Domain)
		require.NoError(t, err)
		assert.Equal(t, mb.ID, resolved.ID)
	})

	// 前进到 TTL 之后一秒
	current = base.Add(61 * time.Second)

	t.Run("过期后地址不可解析", func(t *testing.T) {
		_, err := svc.ResolveActiveByAddress(context.Background(), mb.LocalPart, mb.Domain)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("过期后会话拿到新邮箱", func(t *testing.T) {
		fresh, ttlSeconds, err := svc.GetOrCreateActive(context.Background(), "session-exp")
		require.NoError(t, err)
		assert.NotEqual(t, mb.ID, fresh.ID)
		assert.NotEqual(t, mb.Address(), fresh.Address())
		assert.Equal(t, 60, ttlSeconds)
	})
}

func TestMailboxService_SweepExpired(t *testing.T) {
	store := memory.NewStore()
	svc := NewMailboxService(store, newTestConfig(60*time.Second), zap.NewNop())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	svc.now = func() time.Time { return current }

	expired, _, err := svc.Create(context.Background(), "session-old")
	require.NoError(t, err)

	current = base.Add(30 * time.Second)
	alive, _, err := svc.Create(context.Background(), "session-new")
	require.NoError(t, err)

	current = base.Add(61 * time.Second)

	count, err := svc.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	deactivated, err := store.GetMailbox(context.Background(), expired.ID)
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)

	kept, err := store.GetMailbox(context.Background(), alive.ID)
	require.NoError(t, err)
	assert.True(t, kept.IsActive)

	t.Run("重复执行是幂等的", func(t *testing.T) {
		count, err := svc.SweepExpired(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})
}

func TestMailboxService_ResolveActiveByAddress(t *testing.T) {
	store := memory.NewStore()
	svc := NewMailboxService(store, newTestConfig(time.Hour), zap.NewNop())

	mb, _, err := svc.Create(context.Background(), "session-case")
	require.NoError(t, err)

	t.Run("匹配不区分大小写", func(t *testing.T) {
		upperLocal := []byte(mb.LocalPart)
		for i, ch := range upperLocal {
			if ch >= 'a' && ch <= 'z' {
				upperLocal[i] = ch - 'a' + 'A'
			}
		}

		resolved, err := svc.ResolveActiveByAddress(context.Background(), string(upperLocal), "VANISH.MAIL")
		require.NoError(t, err)
		assert.Equal(t, mb.ID, resolved.ID)
	})

	t.Run("空白输入返回未找到", func(t *testing.T) {
		_, err := svc.ResolveActiveByAddress(context.Background(), "", "vanish.mail")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("未知地址返回未找到", func(t *testing.T) {
		_, err := svc.ResolveActiveByAddress(context.Background(), "nosuchuser1", "vanish.mail")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
