package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vanishmail/backend/internal/config"
	"vanishmail/backend/internal/domain"
)

// newIntegrationStore 连接 VANISHMAIL_TEST_DATABASE_DSN 指向的测试库，
// 未设置时跳过。
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("VANISHMAIL_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("VANISHMAIL_TEST_DATABASE_DSN not set")
	}

	cfg := &config.DatabaseConfig{
		DSN:             dsn,
		MaxConns:        4,
		MinConns:        1,
		ConnMaxLifetime: time.Minute,
	}

	store, err := NewStore(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedMailbox(t *testing.T, store *Store) *domain.Mailbox {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	session := &domain.Session{ID: uuid.NewString(), CreatedAt: now}
	require.NoError(t, store.CreateSession(ctx, session))

	mailbox := &domain.Mailbox{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		LocalPart: strings.ToLower(uuid.NewString()[:10]),
		Domain:    "vanish.mail",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
		IsActive:  true,
	}
	require.NoError(t, store.CreateMailbox(ctx, mailbox))
	return mailbox
}

func TestSaveMessage(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	t.Run("单条附件行失败不丢整封邮件", func(t *testing.T) {
		mailbox := seedMailbox(t, store)

		msg := &domain.Message{
			ID:             uuid.NewString(),
			MailboxID:      mailbox.ID,
			FromAddress:    "alice@example.com",
			ToAddress:      mailbox.Address(),
			Subject:        "files",
			TextBody:       "see attachments",
			HasAttachments: true,
			ReceivedAt:     time.Now().UTC(),
		}

		// filename 超出列宽，插入必然失败；后续附件仍应写入
		attachments := []*domain.Attachment{
			{
				ID:          uuid.NewString(),
				MessageID:   msg.ID,
				Filename:    strings.Repeat("x", 300) + ".bin",
				ContentType: "application/octet-stream",
				SizeBytes:   10,
			},
			{
				ID:          uuid.NewString(),
				MessageID:   msg.ID,
				Filename:    "report.pdf",
				ContentType: "application/pdf",
				SizeBytes:   2048,
			},
		}

		require.NoError(t, store.SaveMessage(ctx, msg, attachments))

		stored, err := store.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, "see attachments", stored.TextBody)

		kept, err := store.ListAttachments(ctx, msg.ID)
		require.NoError(t, err)
		require.Len(t, kept, 1)
		assert.Equal(t, "report.pdf", kept[0].Filename)
	})

	t.Run("完整保存附件元数据", func(t *testing.T) {
		mailbox := seedMailbox(t, store)

		msg := &domain.Message{
			ID:          uuid.NewString(),
			MailboxID:   mailbox.ID,
			FromAddress: "bob@example.com",
			ToAddress:   mailbox.Address(),
			Subject:     "hello",
			TextBody:    "plain",
			RawHeaders:  map[string]string{"Subject": "hello"},
			ReceivedAt:  time.Now().UTC(),
		}
		att := &domain.Attachment{
			ID:          uuid.NewString(),
			MessageID:   msg.ID,
			Filename:    "data.bin",
			ContentType: "application/octet-stream",
			SizeBytes:   11,
		}

		require.NoError(t, store.SaveMessage(ctx, msg, []*domain.Attachment{att}))

		stored, err := store.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, "hello", stored.RawHeaders["Subject"])

		kept, err := store.ListAttachments(ctx, msg.ID)
		require.NoError(t, err)
		require.Len(t, kept, 1)
		assert.Equal(t, int64(11), kept[0].SizeBytes)
	})
}
