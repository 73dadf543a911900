package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"vanishmail/backend/internal/domain"
	"vanishmail/backend/internal/storage"
)

// listPageSize 列表接口的固定分页上限。
const listPageSize = 50

// MessageService 提供按会话所有权限制的邮件读取与删除。
//
// 所有操作都是两步式：先解析所属邮箱，再比对会话归属，
// 然后才执行实际操作。所有权校验失败统一归一为 ErrNotFound。
type MessageService struct {
	mailboxes storage.MailboxRepository
	messages  storage.MessageRepository
	log       *zap.Logger
}

// NewMessageService 创建邮件访问服务。
func NewMessageService(mailboxes storage.MailboxRepository, messages storage.MessageRepository, log *zap.Logger) *MessageService {
	return &MessageService{
		mailboxes: mailboxes,
		messages:  messages,
		log:       log,
	}
}

// List 列出邮箱内的邮件摘要，按接收时间倒序，最多 50 条。
// 摘要不包含正文与头部。
func (s *MessageService) List(ctx context.Context, sessionID, mailboxID string) ([]domain.Message, error) {
	if _, err := s.authorizeMailbox(ctx, sessionID, mailboxID); err != nil {
		return nil, err
	}

	messages, err := s.messages.ListMessages(ctx, mailboxID, listPageSize)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// Get 获取单封邮件详情，成功读取时无条件置为已读（幂等）。
// 头部仅在 includeHeaders 为真时返回。
func (s *MessageService) Get(ctx context.Context, sessionID, messageID string, includeHeaders bool) (*domain.Message, []domain.Attachment, error) {
	message, err := s.authorizeMessage(ctx, sessionID, messageID)
	if err != nil {
		return nil, nil, err
	}

	if err := s.messages.MarkMessageRead(ctx, messageID); err != nil {
		// 已读标记失败不阻断读取
		s.log.Warn("mark message read failed", zap.String("message_id", messageID), zap.Error(err))
	} else {
		message.IsRead = true
	}

	if !includeHeaders {
		message.RawHeaders = nil
	}

	var attachments []domain.Attachment
	if message.HasAttachments {
		attachments, err = s.messages.ListAttachments(ctx, messageID)
		if err != nil {
			return nil, nil, fmt.Errorf("list attachments: %w", err)
		}
	}

	return message, attachments, nil
}

// Delete 物理删除邮件及其附件元数据。
func (s *MessageService) Delete(ctx context.Context, sessionID, messageID string) error {
	if _, err := s.authorizeMessage(ctx, sessionID, messageID); err != nil {
		return err
	}

	if err := s.messages.DeleteMessage(ctx, messageID); err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// authorizeMailbox 两步授权：第一步按 ID 解析邮箱，
// 第二步比对会话归属。邮箱不存在与不归属同样返回 ErrNotFound。
func (s *MessageService) authorizeMailbox(ctx context.Context, sessionID, mailboxID string) (*domain.Mailbox, error) {
	mailbox, err := s.mailboxes.GetMailbox(ctx, mailboxID)
	if err != nil {
		if errors.Is(err, storage.ErrMailboxNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup mailbox: %w", err)
	}

	if mailbox.SessionID != sessionID {
		s.log.Debug("mailbox ownership mismatch",
			zap.String("mailbox_id", mailboxID),
			zap.String("session_id", sessionID),
		)
		return nil, ErrNotFound
	}
	return mailbox, nil
}

// authorizeMessage 通过所属邮箱传递式地执行同样的两步授权。
func (s *MessageService) authorizeMessage(ctx context.Context, sessionID, messageID string) (*domain.Message, error) {
	message, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup message: %w", err)
	}

	if _, err := s.authorizeMailbox(ctx, sessionID, message.MailboxID); err != nil {
		return nil, err
	}
	return message, nil
}
