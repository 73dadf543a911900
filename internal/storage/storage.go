package storage

import (
	"context"
	"errors"
	"time"

	"vanishmail/backend/internal/domain"
)

var (
	// ErrSessionNotFound 会话不存在
	ErrSessionNotFound = errors.New("session not found")
	// ErrMailboxNotFound 邮箱不存在
	ErrMailboxNotFound = errors.New("mailbox not found")
	// ErrMessageNotFound 邮件不存在
	ErrMessageNotFound = errors.New("message not found")
	// ErrAddressTaken 地址已被激活邮箱占用
	ErrAddressTaken = errors.New("address already taken")
)

// SessionRepository 定义会话数据存取操作。
type SessionRepository interface {
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
}

// MailboxRepository 定义邮箱数据存取操作。
//
// 过期判断统一由调用方传入 now，存储层本身不读时钟，
// 便于在测试中模拟时间。
type MailboxRepository interface {
	// CreateMailbox 插入新邮箱；当 (local_part, domain) 与某个
	// 激活邮箱冲突时返回 ErrAddressTaken。
	CreateMailbox(ctx context.Context, mailbox *domain.Mailbox) error
	GetMailbox(ctx context.Context, id string) (*domain.Mailbox, error)
	// GetActiveMailboxBySession 返回会话最新的激活且未过期邮箱。
	GetActiveMailboxBySession(ctx context.Context, sessionID string, now time.Time) (*domain.Mailbox, error)
	// GetActiveMailboxByAddress 按 (local_part, domain) 精确匹配
	// 激活且未过期的邮箱，入参必须已转为小写。
	GetActiveMailboxByAddress(ctx context.Context, localPart, domainName string, now time.Time) (*domain.Mailbox, error)
	// DeactivateMailboxesBySession 将会话名下全部邮箱置为非激活。
	DeactivateMailboxesBySession(ctx context.Context, sessionID string) error
	// DeactivateExpiredMailboxes 批量停用所有已过期邮箱，返回数量。
	DeactivateExpiredMailboxes(ctx context.Context, now time.Time) (int, error)
	// PurgeMessagesExpiredBefore 删除过期时间早于 cutoff 的邮箱
	// 名下的全部邮件（含附件元数据），返回删除的邮件数量。
	PurgeMessagesExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// MessageRepository 定义邮件数据存取操作。
type MessageRepository interface {
	// SaveMessage 在同一逻辑工作单元内保存邮件与其附件元数据。
	// 附件行写入失败不回滚邮件本体。
	SaveMessage(ctx context.Context, message *domain.Message, attachments []*domain.Attachment) error
	// ListMessages 返回邮箱内邮件摘要（不含正文与头部），
	// 按接收时间倒序，最多 limit 条。
	ListMessages(ctx context.Context, mailboxID string, limit int) ([]domain.Message, error)
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)
	ListAttachments(ctx context.Context, messageID string) ([]domain.Attachment, error)
	MarkMessageRead(ctx context.Context, messageID string) error
	// DeleteMessage 物理删除邮件及其附件元数据。
	DeleteMessage(ctx context.Context, messageID string) error
}

// Store 定义完整的存储接口。
type Store interface {
	SessionRepository
	MailboxRepository
	MessageRepository

	Close() error
	Health() error
}
