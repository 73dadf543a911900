package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vanishmail/backend/internal/domain"
	"vanishmail/backend/internal/mailparse"
	"vanishmail/backend/internal/monitoring"
	"vanishmail/backend/internal/storage"
)

// Notifier 在新邮件入库后向在线客户端推送通知。
type Notifier interface {
	NotifyNewMail(mailboxID string, msg *domain.Message)
}

// IngestService 是入站邮件的投递入口。
//
// 收件地址无法路由到活跃邮箱时整封邮件静默丢弃，
// 不向发送端暴露任何邮箱存在与否的信息。
type IngestService struct {
	mailboxes *MailboxService
	messages  storage.MessageRepository
	notifier  Notifier
	metrics   *monitoring.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// NewIngestService 创建入站投递服务。notifier 可以为 nil。
func NewIngestService(mailboxes *MailboxService, messages storage.MessageRepository, notifier Notifier, log *zap.Logger) *IngestService {
	return &IngestService{
		mailboxes: mailboxes,
		messages:  messages,
		notifier:  notifier,
		metrics:   monitoring.NewMetrics(),
		log:       log,
		now:       time.Now,
	}
}

// Ingest 接收一封已经通过 SMTP 会话的原始邮件并投递到对应邮箱。
//
// 丢弃（无效地址、无活跃邮箱）不算错误，返回 nil；
// 只有顶层 MIME 结构不可解析或存储失败才返回错误。
func (s *IngestService) Ingest(ctx context.Context, envelopeFrom, envelopeTo string, raw []byte) error {
	localPart, domainName, ok := strings.Cut(envelopeTo, "@")
	if !ok || localPart == "" || domainName == "" {
		s.metrics.IngestDropped.WithLabelValues(monitoring.DropReasonInvalidAddress).Inc()
		s.log.Debug("dropping mail with malformed recipient", zap.String("to", envelopeTo))
		return nil
	}

	mailbox, err := s.mailboxes.ResolveActiveByAddress(ctx, localPart, domainName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.metrics.IngestDropped.WithLabelValues(monitoring.DropReasonNoMailbox).Inc()
			s.log.Debug("dropping mail for unroutable recipient", zap.String("to", envelopeTo))
			return nil
		}
		return err
	}

	parsed, err := mailparse.ParseEmail(raw)
	if err != nil {
		s.metrics.IngestDropped.WithLabelValues(monitoring.DropReasonParseFailure).Inc()
		s.log.Warn("rejecting unparseable mail",
			zap.String("from", envelopeFrom),
			zap.String("to", envelopeTo),
			zap.Error(err))
		return err
	}

	fromAddress := parsed.FromAddress
	if fromAddress == "" {
		fromAddress = envelopeFrom
	}
	msg := &domain.Message{
		ID:             uuid.NewString(),
		MailboxID:      mailbox.ID,
		FromAddress:    fromAddress,
		FromName:       parsed.FromName,
		ToAddress:      mailbox.Address(),
		Subject:        parsed.Subject,
		TextBody:       parsed.Text,
		HTMLBody:       parsed.HTML,
		RawHeaders:     parsed.Headers,
		HasAttachments: len(parsed.Attachments) > 0,
		IsRead:         false,
		ReceivedAt:     s.now(),
	}

	attachments := make([]*domain.Attachment, 0, len(parsed.Attachments))
	for i := range parsed.Attachments {
		att := parsed.Attachments[i]
		att.ID = uuid.NewString()
		att.MessageID = msg.ID
		attachments = append(attachments, &att)
	}

	if err := s.messages.SaveMessage(ctx, msg, attachments); err != nil {
		s.metrics.StoreErrorsTotal.Inc()
		s.log.Error("failed to persist inbound message",
			zap.String("mailbox_id", mailbox.ID),
			zap.Error(err))
		return err
	}

	s.metrics.MessagesIngested.Inc()
	s.log.Info("message delivered",
		zap.String("mailbox_id", mailbox.ID),
		zap.String("message_id", msg.ID),
		zap.String("from", fromAddress),
		zap.Int("attachments", len(attachments)))

	if s.notifier != nil {
		s.notifier.NotifyNewMail(mailbox.ID, msg)
	}
	return nil
}
