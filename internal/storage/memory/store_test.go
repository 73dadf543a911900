package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vanishmail/backend/internal/domain"
	"vanishmail/backend/internal/storage"
)

func newMailbox(id, sessionID, localPart string, expiresAt time.Time, active bool) *domain.Mailbox {
	return &domain.Mailbox{
		ID:        id,
		SessionID: sessionID,
		LocalPart: localPart,
		Domain:    "vanish.mail",
		CreatedAt: expiresAt.Add(-time.Hour),
		ExpiresAt: expiresAt,
		IsActive:  active,
	}
}

func TestStore_CreateMailbox(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	require.NoError(t, store.CreateMailbox(ctx, newMailbox("a", "s1", "alpha12345", future, true)))

	t.Run("激活地址冲突", func(t *testing.T) {
		err := store.CreateMailbox(ctx, newMailbox("b", "s2", "alpha12345", future, true))
		assert.ErrorIs(t, err, storage.ErrAddressTaken)
	})

	t.Run("停用记录不阻挡地址复用", func(t *testing.T) {
		require.NoError(t, store.CreateMailbox(ctx, newMailbox("c", "s3", "beta678901", future, false)))
		assert.NoError(t, store.CreateMailbox(ctx, newMailbox("d", "s4", "beta678901", future, true)))
	})
}

func TestStore_GetActiveMailboxBySession(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("没有记录返回未找到", func(t *testing.T) {
		_, err := store.GetActiveMailboxBySession(ctx, "nobody", now)
		assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
	})

	t.Run("过滤停用与过期记录", func(t *testing.T) {
		require.NoError(t, store.CreateMailbox(ctx, newMailbox("inactive", "s1", "one1111111", now.Add(time.Hour), false)))
		require.NoError(t, store.CreateMailbox(ctx, newMailbox("expired", "s1", "two2222222", now.Add(-time.Minute), true)))

		_, err := store.GetActiveMailboxBySession(ctx, "s1", now)
		assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
	})

	t.Run("多条激活记录取最新", func(t *testing.T) {
		older := newMailbox("older", "s2", "old3333333", now.Add(time.Hour), true)
		older.CreatedAt = now.Add(-2 * time.Hour)
		newer := newMailbox("newer", "s2", "new4444444", now.Add(time.Hour), true)
		newer.CreatedAt = now.Add(-time.Minute)
		require.NoError(t, store.CreateMailbox(ctx, older))
		require.NoError(t, store.CreateMailbox(ctx, newer))

		mb, err := store.GetActiveMailboxBySession(ctx, "s2", now)
		require.NoError(t, err)
		assert.Equal(t, "newer", mb.ID)
	})
}

func TestStore_GetActiveMailboxByAddress(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreateMailbox(ctx, newMailbox("live", "s1", "livebox123", now.Add(time.Hour), true)))
	require.NoError(t, store.CreateMailbox(ctx, newMailbox("dead", "s2", "deadbox456", now.Add(-time.Hour), true)))

	t.Run("命中激活未过期邮箱", func(t *testing.T) {
		mb, err := store.GetActiveMailboxByAddress(ctx, "livebox123", "vanish.mail", now)
		require.NoError(t, err)
		assert.Equal(t, "live", mb.ID)
	})

	t.Run("过期邮箱不可见", func(t *testing.T) {
		_, err := store.GetActiveMailboxByAddress(ctx, "deadbox456", "vanish.mail", now)
		assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
	})
}

func TestStore_DeactivateExpiredMailboxes(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreateMailbox(ctx, newMailbox("gone", "s1", "aaa1111111", now.Add(-time.Second), true)))
	require.NoError(t, store.CreateMailbox(ctx, newMailbox("keep", "s2", "bbb2222222", now.Add(time.Hour), true)))

	count, err := store.DeactivateExpiredMailboxes(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	mb, err := store.GetMailbox(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, mb.IsActive)

	count, err = store.DeactivateExpiredMailboxes(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStore_PurgeMessagesExpiredBefore(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	old := newMailbox("old", "s1", "ccc3333333", now.Add(-48*time.Hour), false)
	recent := newMailbox("recent", "s2", "ddd4444444", now.Add(-time.Hour), false)
	require.NoError(t, store.CreateMailbox(ctx, old))
	require.NoError(t, store.CreateMailbox(ctx, recent))

	require.NoError(t, store.SaveMessage(ctx, &domain.Message{ID: "m-old", MailboxID: "old", ReceivedAt: now}, nil))
	require.NoError(t, store.SaveMessage(ctx, &domain.Message{ID: "m-recent", MailboxID: "recent", ReceivedAt: now}, nil))

	// 只清除过期超过 24 小时的邮箱的邮件
	count, err := store.PurgeMessagesExpiredBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = store.GetMessage(ctx, "m-old")
	assert.ErrorIs(t, err, storage.ErrMessageNotFound)

	_, err = store.GetMessage(ctx, "m-recent")
	assert.NoError(t, err)
}

func TestStore_Messages(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	msg := &domain.Message{
		ID:             "m1",
		MailboxID:      "box",
		FromAddress:    "a@example.com",
		Subject:        "subject",
		TextBody:       "text",
		HTMLBody:       "<p>html</p>",
		RawHeaders:     map[string]string{"Subject": "subject"},
		HasAttachments: true,
		ReceivedAt:     now,
	}
	atts := []*domain.Attachment{{ID: "att1", Filename: "f.txt", ContentType: "text/plain", SizeBytes: 5}}
	require.NoError(t, store.SaveMessage(ctx, msg, atts))

	t.Run("列表摘要不含正文", func(t *testing.T) {
		msgs, err := store.ListMessages(ctx, "box", 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Empty(t, msgs[0].TextBody)
		assert.Empty(t, msgs[0].HTMLBody)
		assert.Nil(t, msgs[0].RawHeaders)
		assert.True(t, msgs[0].HasAttachments)
	})

	t.Run("limit 生效", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			extra := *msg
			extra.ID = msg.ID + string(rune('a'+i))
			extra.ReceivedAt = now.Add(time.Duration(i) * time.Minute)
			require.NoError(t, store.SaveMessage(ctx, &extra, nil))
		}
		msgs, err := store.ListMessages(ctx, "box", 3)
		require.NoError(t, err)
		assert.Len(t, msgs, 3)
	})

	t.Run("详情保留全部字段", func(t *testing.T) {
		got, err := store.GetMessage(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, "text", got.TextBody)
		assert.Equal(t, "subject", got.RawHeaders["Subject"])
	})

	t.Run("附件归属邮件", func(t *testing.T) {
		got, err := store.ListAttachments(ctx, "m1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "m1", got[0].MessageID)
	})

	t.Run("标记已读", func(t *testing.T) {
		require.NoError(t, store.MarkMessageRead(ctx, "m1"))
		got, err := store.GetMessage(ctx, "m1")
		require.NoError(t, err)
		assert.True(t, got.IsRead)
	})

	t.Run("删除后附件一并移除", func(t *testing.T) {
		require.NoError(t, store.DeleteMessage(ctx, "m1"))
		_, err := store.GetMessage(ctx, "m1")
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)

		got, err := store.ListAttachments(ctx, "m1")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
