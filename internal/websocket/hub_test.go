package websocket

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vanishmail/backend/internal/domain"
)

func TestTruncatePreview(t *testing.T) {
	t.Run("短文本原样返回", func(t *testing.T) {
		assert.Equal(t, "hello", truncatePreview("hello", 100))
	})

	t.Run("超长文本按上限截断", func(t *testing.T) {
		long := strings.Repeat("a", 150)
		got := truncatePreview(long, 100)
		assert.Len(t, got, 100)
	})

	t.Run("多字节字符不被截成半个", func(t *testing.T) {
		// 每个字符 3 字节，100 不是 3 的倍数
		long := strings.Repeat("好", 40)
		got := truncatePreview(long, 100)

		assert.True(t, utf8.ValidString(got))
		assert.LessOrEqual(t, len(got), 100)
		assert.True(t, strings.HasPrefix(long, got))
	})
}

func TestNotifyNewMailPreview(t *testing.T) {
	hub := NewHub([]string{"*"}, nil, zap.NewNop())

	msg := &domain.Message{
		ID:         "msg-1",
		MailboxID:  "mb-1",
		TextBody:   strings.Repeat("邮", 60),
		ToAddress:  "someone@vanish.mail",
		ReceivedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	hub.NotifyNewMail("mb-1", msg)

	broadcast := <-hub.broadcast
	require.Equal(t, "mb-1", broadcast.MailboxID)

	var data NewMailData
	require.NoError(t, json.Unmarshal(broadcast.Message.Data, &data))
	assert.True(t, utf8.ValidString(data.Preview))
	assert.LessOrEqual(t, len(data.Preview), previewLimit)
	assert.True(t, data.HasText)
}

// 广播与 readPump 协程的订阅变更并发执行，
// 广播必须在快照上进行，否则并发读写订阅表会使进程崩溃。
func TestBroadcastConcurrentWithSubscriptionChanges(t *testing.T) {
	hub := NewHub([]string{"*"}, nil, zap.NewNop())
	const mailboxID = "mb-race"

	msg := &Message{
		Type:      MessageTypeNewMail,
		MailboxID: mailboxID,
		Timestamp: time.Now(),
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			client := &Client{
				ID:   "client-" + strconv.Itoa(i),
				send: make(chan []byte, 8),
				log:  hub.log,
			}
			hub.mu.Lock()
			if hub.mailboxes[mailboxID] == nil {
				hub.mailboxes[mailboxID] = make(map[string]*Client)
			}
			hub.mailboxes[mailboxID][client.ID] = client
			hub.mu.Unlock()

			if i%2 == 0 {
				hub.mu.Lock()
				delete(hub.mailboxes[mailboxID], client.ID)
				hub.mu.Unlock()
			}
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			hub.broadcastToMailbox(mailboxID, msg)
		}
	}()

	wg.Wait()
}
