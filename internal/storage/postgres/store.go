package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"vanishmail/backend/internal/config"
	"vanishmail/backend/internal/domain"
	"vanishmail/backend/internal/storage"
)

// 激活地址唯一性由部分唯一索引保证，违反时 PostgreSQL 返回 23505。
const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         VARCHAR(36) PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS mailboxes (
	id         VARCHAR(36) PRIMARY KEY,
	session_id VARCHAR(36) NOT NULL REFERENCES sessions(id),
	local_part VARCHAR(255) NOT NULL,
	domain     VARCHAR(255) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	is_active  BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_mailboxes_session
	ON mailboxes (session_id, is_active, created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS uniq_mailboxes_active_address
	ON mailboxes (local_part, domain) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_mailboxes_expires
	ON mailboxes (expires_at);

CREATE TABLE IF NOT EXISTS messages (
	id              VARCHAR(36) PRIMARY KEY,
	mailbox_id      VARCHAR(36) NOT NULL REFERENCES mailboxes(id),
	from_address    VARCHAR(255) NOT NULL,
	from_name       VARCHAR(255) NOT NULL DEFAULT '',
	to_address      VARCHAR(255) NOT NULL,
	subject         TEXT NOT NULL DEFAULT '',
	text_body       TEXT NOT NULL DEFAULT '',
	html_body       TEXT NOT NULL DEFAULT '',
	raw_headers     JSONB,
	has_attachments BOOLEAN NOT NULL DEFAULT FALSE,
	is_read         BOOLEAN NOT NULL DEFAULT FALSE,
	received_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_mailbox
	ON messages (mailbox_id, received_at DESC);

CREATE TABLE IF NOT EXISTS attachments (
	id           VARCHAR(36) PRIMARY KEY,
	message_id   VARCHAR(36) NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	filename     VARCHAR(255) NOT NULL,
	content_type VARCHAR(255) NOT NULL,
	size_bytes   BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attachments_message
	ON attachments (message_id);
`

// Store 基于 pgx 连接池的 PostgreSQL 存储实现。
type Store struct {
	client *Client
	log    *zap.Logger
}

// NewStore 创建 PostgreSQL 存储并应用数据库结构。
func NewStore(cfg *config.DatabaseConfig, log *zap.Logger) (*Store, error) {
	client, err := NewClient(cfg, log)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := client.Pool().Exec(ctx, schema); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{client: client, log: log}, nil
}

// CreateSession 保存新会话。
func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.client.Pool().Exec(ctx,
		`INSERT INTO sessions (id, created_at) VALUES ($1, $2)`,
		session.ID, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession 根据 ID 获取会话。
func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var session domain.Session
	err := s.client.Pool().QueryRow(ctx,
		`SELECT id, created_at FROM sessions WHERE id = $1`,
		id,
	).Scan(&session.ID, &session.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return &session, nil
}

// CreateMailbox 插入新邮箱，激活地址冲突时返回 ErrAddressTaken。
func (s *Store) CreateMailbox(ctx context.Context, mailbox *domain.Mailbox) error {
	_, err := s.client.Pool().Exec(ctx,
		`INSERT INTO mailboxes (id, session_id, local_part, domain, created_at, expires_at, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		mailbox.ID, mailbox.SessionID, mailbox.LocalPart, mailbox.Domain,
		mailbox.CreatedAt, mailbox.ExpiresAt, mailbox.IsActive,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return storage.ErrAddressTaken
		}
		return fmt.Errorf("insert mailbox: %w", err)
	}
	return nil
}

// GetMailbox 根据 ID 获取邮箱（不限状态）。
func (s *Store) GetMailbox(ctx context.Context, id string) (*domain.Mailbox, error) {
	return s.scanMailbox(s.client.Pool().QueryRow(ctx,
		`SELECT id, session_id, local_part, domain, created_at, expires_at, is_active
		 FROM mailboxes WHERE id = $1`,
		id,
	))
}

// GetActiveMailboxBySession 返回会话最新的激活且未过期邮箱。
func (s *Store) GetActiveMailboxBySession(ctx context.Context, sessionID string, now time.Time) (*domain.Mailbox, error) {
	return s.scanMailbox(s.client.Pool().QueryRow(ctx,
		`SELECT id, session_id, local_part, domain, created_at, expires_at, is_active
		 FROM mailboxes
		 WHERE session_id = $1 AND is_active AND expires_at > $2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		sessionID, now,
	))
}

// GetActiveMailboxByAddress 按地址匹配激活且未过期的邮箱。
func (s *Store) GetActiveMailboxByAddress(ctx context.Context, localPart, domainName string, now time.Time) (*domain.Mailbox, error) {
	return s.scanMailbox(s.client.Pool().QueryRow(ctx,
		`SELECT id, session_id, local_part, domain, created_at, expires_at, is_active
		 FROM mailboxes
		 WHERE local_part = $1 AND domain = $2 AND is_active AND expires_at > $3
		 ORDER BY created_at DESC
		 LIMIT 1`,
		localPart, domainName, now,
	))
}

// DeactivateMailboxesBySession 停用会话名下的全部邮箱。
func (s *Store) DeactivateMailboxesBySession(ctx context.Context, sessionID string) error {
	_, err := s.client.Pool().Exec(ctx,
		`UPDATE mailboxes SET is_active = FALSE WHERE session_id = $1 AND is_active`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("deactivate mailboxes: %w", err)
	}
	return nil
}

// DeactivateExpiredMailboxes 批量停用过期邮箱，返回数量。
func (s *Store) DeactivateExpiredMailboxes(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.client.Pool().Exec(ctx,
		`UPDATE mailboxes SET is_active = FALSE WHERE is_active AND expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired mailboxes: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PurgeMessagesExpiredBefore 删除过期时间早于 cutoff 的邮箱的全部邮件。
func (s *Store) PurgeMessagesExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	// 附件行由外键的 ON DELETE CASCADE 一并清除
	tag, err := s.client.Pool().Exec(ctx,
		`DELETE FROM messages
		 WHERE mailbox_id IN (SELECT id FROM mailboxes WHERE expires_at <= $1)`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge messages: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// SaveMessage 在同一事务内保存邮件与附件元数据。
func (s *Store) SaveMessage(ctx context.Context, message *domain.Message, attachments []*domain.Attachment) error {
	headers, err := marshalHeaders(message.RawHeaders)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}

	tx, err := s.client.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, mailbox_id, from_address, from_name, to_address,
		                       subject, text_body, html_body, raw_headers,
		                       has_attachments, is_read, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		message.ID, message.MailboxID, message.FromAddress, message.FromName,
		message.ToAddress, message.Subject, message.TextBody, message.HTMLBody,
		headers, message.HasAttachments, message.IsRead, message.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	for _, att := range attachments {
		// 每条附件走独立的 savepoint：插入失败会把整个事务置于
		// aborted 状态，不回滚到 savepoint 的话邮件本体也会随
		// Commit 一起丢失
		sp, err := tx.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin savepoint: %w", err)
		}

		_, err = sp.Exec(ctx,
			`INSERT INTO attachments (id, message_id, filename, content_type, size_bytes)
			 VALUES ($1, $2, $3, $4, $5)`,
			att.ID, message.ID, att.Filename, att.ContentType, att.SizeBytes,
		)
		if err != nil {
			// 附件元数据残缺可容忍，保留已写入的邮件本体
			sp.Rollback(ctx)
			s.log.Warn("insert attachment metadata failed",
				zap.String("message_id", message.ID),
				zap.String("filename", att.Filename),
				zap.Error(err),
			)
			continue
		}

		if err := sp.Commit(ctx); err != nil {
			return fmt.Errorf("commit savepoint: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListMessages 返回邮箱内邮件摘要，按接收时间倒序，最多 limit 条。
func (s *Store) ListMessages(ctx context.Context, mailboxID string, limit int) ([]domain.Message, error) {
	rows, err := s.client.Pool().Query(ctx,
		`SELECT id, mailbox_id, from_address, from_name, to_address, subject,
		        has_attachments, is_read, received_at
		 FROM messages
		 WHERE mailbox_id = $1
		 ORDER BY received_at DESC
		 LIMIT $2`,
		mailboxID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.MailboxID, &m.FromAddress, &m.FromName,
			&m.ToAddress, &m.Subject, &m.HasAttachments, &m.IsRead, &m.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// GetMessage 获取单封邮件详情。
func (s *Store) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	var m domain.Message
	var headers []byte
	err := s.client.Pool().QueryRow(ctx,
		`SELECT id, mailbox_id, from_address, from_name, to_address, subject,
		        text_body, html_body, raw_headers, has_attachments, is_read, received_at
		 FROM messages WHERE id = $1`,
		messageID,
	).Scan(&m.ID, &m.MailboxID, &m.FromAddress, &m.FromName, &m.ToAddress,
		&m.Subject, &m.TextBody, &m.HTMLBody, &headers, &m.HasAttachments,
		&m.IsRead, &m.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select message: %w", err)
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &m.RawHeaders); err != nil {
			return nil, fmt.Errorf("unmarshal headers: %w", err)
		}
	}
	return &m, nil
}

// ListAttachments 返回邮件的附件元数据。
func (s *Store) ListAttachments(ctx context.Context, messageID string) ([]domain.Attachment, error) {
	rows, err := s.client.Pool().Query(ctx,
		`SELECT id, message_id, filename, content_type, size_bytes
		 FROM attachments WHERE message_id = $1`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("select attachments: %w", err)
	}
	defer rows.Close()

	attachments := make([]domain.Attachment, 0)
	for rows.Next() {
		var a domain.Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Filename, &a.ContentType, &a.SizeBytes); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

// MarkMessageRead 将邮件标记为已读。
func (s *Store) MarkMessageRead(ctx context.Context, messageID string) error {
	tag, err := s.client.Pool().Exec(ctx,
		`UPDATE messages SET is_read = TRUE WHERE id = $1`,
		messageID,
	)
	if err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrMessageNotFound
	}
	return nil
}

// DeleteMessage 物理删除邮件，附件元数据随外键级联删除。
func (s *Store) DeleteMessage(ctx context.Context, messageID string) error {
	tag, err := s.client.Pool().Exec(ctx,
		`DELETE FROM messages WHERE id = $1`,
		messageID,
	)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrMessageNotFound
	}
	return nil
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

// Health 检查数据库健康状态。
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.client.Ping(ctx)
}

func (s *Store) scanMailbox(row pgx.Row) (*domain.Mailbox, error) {
	var m domain.Mailbox
	err := row.Scan(&m.ID, &m.SessionID, &m.LocalPart, &m.Domain,
		&m.CreatedAt, &m.ExpiresAt, &m.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrMailboxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select mailbox: %w", err)
	}
	return &m, nil
}

func marshalHeaders(headers map[string]string) ([]byte, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	return json.Marshal(headers)
}
