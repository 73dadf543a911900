package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"vanishmail/backend/internal/domain"
	"vanishmail/backend/internal/storage"
)

// Store 使用内存保存会话、邮箱与邮件数据，主要用于开发验证与测试。
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*domain.Session
	mailboxes   map[string]*domain.Mailbox
	messages    map[string]*domain.Message        // messageID -> message
	byMailbox   map[string]map[string]struct{}    // mailboxID -> messageID set
	attachments map[string][]*domain.Attachment   // messageID -> attachments
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		sessions:    make(map[string]*domain.Session),
		mailboxes:   make(map[string]*domain.Mailbox),
		messages:    make(map[string]*domain.Message),
		byMailbox:   make(map[string]map[string]struct{}),
		attachments: make(map[string][]*domain.Attachment),
	}
}

// CreateSession 保存新会话。
func (s *Store) CreateSession(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

// GetSession 根据 ID 获取会话。
func (s *Store) GetSession(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

// CreateMailbox 插入新邮箱，激活地址冲突时返回 ErrAddressTaken。
func (s *Store) CreateMailbox(_ context.Context, mailbox *domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mailbox.IsActive {
		for _, mb := range s.mailboxes {
			if mb.IsActive && mb.LocalPart == mailbox.LocalPart && mb.Domain == mailbox.Domain {
				return storage.ErrAddressTaken
			}
		}
	}

	cp := *mailbox
	s.mailboxes[mailbox.ID] = &cp
	return nil
}

// GetMailbox 根据 ID 获取邮箱（不限状态）。
func (s *Store) GetMailbox(_ context.Context, id string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mailbox, ok := s.mailboxes[id]
	if !ok {
		return nil, storage.ErrMailboxNotFound
	}
	cp := *mailbox
	return &cp, nil
}

// GetActiveMailboxBySession 返回会话最新的激活且未过期邮箱。
func (s *Store) GetActiveMailboxBySession(_ context.Context, sessionID string, now time.Time) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Mailbox
	for _, mb := range s.mailboxes {
		if mb.SessionID != sessionID || !mb.IsActive || mb.Expired(now) {
			continue
		}
		if latest == nil || mb.CreatedAt.After(latest.CreatedAt) {
			latest = mb
		}
	}
	if latest == nil {
		return nil, storage.ErrMailboxNotFound
	}
	cp := *latest
	return &cp, nil
}

// GetActiveMailboxByAddress 按地址匹配激活且未过期的邮箱。
func (s *Store) GetActiveMailboxByAddress(_ context.Context, localPart, domainName string, now time.Time) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, mb := range s.mailboxes {
		if mb.IsActive && !mb.Expired(now) && mb.LocalPart == localPart && mb.Domain == domainName {
			cp := *mb
			return &cp, nil
		}
	}
	return nil, storage.ErrMailboxNotFound
}

// DeactivateMailboxesBySession 停用会话名下的全部邮箱。
func (s *Store) DeactivateMailboxesBySession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, mb := range s.mailboxes {
		if mb.SessionID == sessionID {
			mb.IsActive = false
		}
	}
	return nil
}

// DeactivateExpiredMailboxes 批量停用过期邮箱，返回数量。
func (s *Store) DeactivateExpiredMailboxes(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, mb := range s.mailboxes {
		if mb.IsActive && mb.Expired(now) {
			mb.IsActive = false
			count++
		}
	}
	return count, nil
}

// PurgeMessagesExpiredBefore 删除过期时间早于 cutoff 的邮箱的全部邮件。
func (s *Store) PurgeMessagesExpiredBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, mb := range s.mailboxes {
		if mb.ExpiresAt.After(cutoff) {
			continue
		}
		for messageID := range s.byMailbox[mb.ID] {
			delete(s.messages, messageID)
			delete(s.attachments, messageID)
			count++
		}
		delete(s.byMailbox, mb.ID)
	}
	return count, nil
}

// SaveMessage 保存邮件与附件元数据。
func (s *Store) SaveMessage(_ context.Context, message *domain.Message, attachments []*domain.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *message
	s.messages[message.ID] = &cp
	if s.byMailbox[message.MailboxID] == nil {
		s.byMailbox[message.MailboxID] = make(map[string]struct{})
	}
	s.byMailbox[message.MailboxID][message.ID] = struct{}{}

	for _, att := range attachments {
		ac := *att
		ac.MessageID = message.ID
		s.attachments[message.ID] = append(s.attachments[message.ID], &ac)
	}
	return nil
}

// ListMessages 返回邮箱内邮件摘要，按接收时间倒序，最多 limit 条。
func (s *Store) ListMessages(_ context.Context, mailboxID string, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Message, 0, len(s.byMailbox[mailboxID]))
	for messageID := range s.byMailbox[mailboxID] {
		msg := s.messages[messageID]
		if msg == nil {
			continue
		}
		summary := *msg
		// 摘要不携带正文与头部
		summary.TextBody = ""
		summary.HTMLBody = ""
		summary.RawHeaders = nil
		result = append(result, summary)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ReceivedAt.After(result[j].ReceivedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetMessage 获取单封邮件。
func (s *Store) GetMessage(_ context.Context, messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	cp := *msg
	return &cp, nil
}

// ListAttachments 返回邮件的附件元数据。
func (s *Store) ListAttachments(_ context.Context, messageID string) ([]domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	atts := s.attachments[messageID]
	result := make([]domain.Attachment, 0, len(atts))
	for _, att := range atts {
		result = append(result, *att)
	}
	return result, nil
}

// MarkMessageRead 将邮件标记为已读。
func (s *Store) MarkMessageRead(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return storage.ErrMessageNotFound
	}
	msg.IsRead = true
	return nil
}

// DeleteMessage 物理删除邮件及其附件元数据。
func (s *Store) DeleteMessage(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return storage.ErrMessageNotFound
	}
	delete(s.messages, messageID)
	delete(s.attachments, messageID)
	if set := s.byMailbox[msg.MailboxID]; set != nil {
		delete(set, messageID)
	}
	return nil
}

// Close 关闭存储（内存实现无操作）。
func (s *Store) Close() error { return nil }

// Health 检查存储健康状态（内存实现总是健康）。
func (s *Store) Health() error { return nil }
