package smtp

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vanishmail/backend/internal/config"
	"vanishmail/backend/internal/domain"
	"vanishmail/backend/internal/service"
	"vanishmail/backend/internal/storage/memory"
)

func newTestBackend(t *testing.T) (*Backend, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	cfg := &config.Config{
		Mailbox: config.MailboxConfig{
			Domains: []string{"vanish.mail"},
			TTL:     time.Hour,
		},
	}
	mailboxes := service.NewMailboxService(store, cfg, zap.NewNop())
	ingest := service.NewIngestService(mailboxes, store, nil, zap.NewNop())

	backend := NewBackend(ingest, cfg.Mailbox.Domains, 10, nil, zap.NewNop())
	return backend, store
}

func seedActiveMailbox(t *testing.T, store *memory.Store, localPart string) *domain.Mailbox {
	t.Helper()
	mb := &domain.Mailbox{
		ID:        "mb-" + localPart,
		SessionID: "session-" + localPart,
		LocalPart: localPart,
		Domain:    "vanish.mail",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
		IsActive:  true,
	}
	require.NoError(t, store.CreateMailbox(context.Background(), mb))
	return mb
}

func TestSession_Rcpt(t *testing.T) {
	backend, store := newTestBackend(t)
	seedActiveMailbox(t, store, "knownuser1")

	sess, err := backend.NewSession(nil)
	require.NoError(t, err)
	s := sess.(*session)

	t.Run("本系统域名接受", func(t *testing.T) {
		assert.NoError(t, s.Rcpt("<knownuser1@vanish.mail>", nil))
	})

	t.Run("邮箱不存在时同样接受", func(t *testing.T) {
		// RCPT 阶段不检查邮箱是否存在，避免被用来探测地址
		assert.NoError(t, s.Rcpt("<nosuchbox9@vanish.mail>", nil))
	})

	t.Run("外部域名拒绝中继", func(t *testing.T) {
		err := s.Rcpt("<victim@other.example>", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "relay access denied")
	})

	t.Run("畸形地址拒绝", func(t *testing.T) {
		assert.Error(t, s.Rcpt("<not-an-address>", nil))
	})
}

func TestSession_Data(t *testing.T) {
	backend, store := newTestBackend(t)
	mb := seedActiveMailbox(t, store, "datauser12")

	raw := "From: sender@example.com\r\n" +
		"To: datauser12@vanish.mail\r\n" +
		"Subject: via smtp\r\n" +
		"\r\n" +
		"delivered over the wire\r\n"

	t.Run("投递到存在的邮箱", func(t *testing.T) {
		sess, err := backend.NewSession(nil)
		require.NoError(t, err)
		s := sess.(*session)

		require.NoError(t, s.Mail("<sender@example.com>", nil))
		require.NoError(t, s.Rcpt("<datauser12@vanish.mail>", nil))
		require.NoError(t, s.Data(strings.NewReader(raw)))

		msgs, err := store.ListMessages(context.Background(), mb.ID, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "via smtp", msgs[0].Subject)
	})

	t.Run("不存在的邮箱静默丢弃", func(t *testing.T) {
		sess, err := backend.NewSession(nil)
		require.NoError(t, err)
		s := sess.(*session)

		require.NoError(t, s.Mail("<sender@example.com>", nil))
		require.NoError(t, s.Rcpt("<ghostuser0@vanish.mail>", nil))
		// 对发送端表现为投递成功
		assert.NoError(t, s.Data(strings.NewReader(raw)))
	})

	t.Run("Reset 清空状态", func(t *testing.T) {
		sess, err := backend.NewSession(nil)
		require.NoError(t, err)
		s := sess.(*session)

		require.NoError(t, s.Mail("<sender@example.com>", nil))
		require.NoError(t, s.Rcpt("<datauser12@vanish.mail>", nil))
		s.Reset()
		assert.Empty(t, s.fromAddress)
		assert.Empty(t, s.recipients)
	})
}

func TestConnectionLimiter(t *testing.T) {
	t.Run("并发上限", func(t *testing.T) {
		limiter := NewConnectionLimiter(2, 100)

		assert.True(t, limiter.Acquire())
		assert.True(t, limiter.Acquire())
		assert.False(t, limiter.Acquire())

		limiter.Release()
		assert.True(t, limiter.Acquire())
		assert.Equal(t, 2, limiter.Current())
	})

	t.Run("速率上限", func(t *testing.T) {
		limiter := NewConnectionLimiter(100, 1)

		assert.True(t, limiter.Acquire())
		// 令牌耗尽，并发额度仍有剩余
		assert.False(t, limiter.Acquire())
	})

	t.Run("超限的连接被拒绝", func(t *testing.T) {
		backend, _ := newTestBackend(t)
		backend.limiter = NewConnectionLimiter(1, 100)

		_, err := backend.NewSession(nil)
		require.NoError(t, err)

		_, err = backend.NewSession(nil)
		assert.Error(t, err)
	})
}
