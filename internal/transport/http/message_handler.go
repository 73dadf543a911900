package httptransport

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vanishmail/backend/internal/domain"
	"vanishmail/backend/internal/middleware"
	"vanishmail/backend/internal/monitoring"
	"vanishmail/backend/internal/service"
)

// defaultSubject 没有主题的邮件在列表和详情中的占位主题。
const defaultSubject = "(No Subject)"

// messageListResponse 邮件列表响应
type messageListResponse struct {
	Messages []messageSummary `json:"messages"`
	Count    int              `json:"count"`
}

// messageSummary 列表中的邮件摘要，不含正文
type messageSummary struct {
	ID             string    `json:"id"`
	From           string    `json:"from"`
	Subject        string    `json:"subject"`
	ReceivedAt     time.Time `json:"received_at"`
	IsRead         bool      `json:"is_read"`
	HasAttachments bool      `json:"has_attachments"`
}

// messageDetailResponse 邮件详情响应
type messageDetailResponse struct {
	ID             string            `json:"id"`
	MailboxID      string            `json:"mailbox_id"`
	From           string            `json:"from"`
	FromName       string            `json:"from_name,omitempty"`
	To             string            `json:"to"`
	Subject        string            `json:"subject"`
	TextBody       string            `json:"text_body"`
	HTMLBody       string            `json:"html_body"`
	IsRead         bool              `json:"is_read"`
	ReceivedAt     time.Time         `json:"received_at"`
	HasAttachments bool              `json:"has_attachments"`
	Attachments    []attachmentItem  `json:"attachments,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
}

type attachmentItem struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// MessageHandler 邮件处理器
type MessageHandler struct {
	messages *service.MessageService
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// NewMessageHandler 创建邮件处理器
func NewMessageHandler(messages *service.MessageService, metrics *monitoring.Metrics, log *zap.Logger) *MessageHandler {
	return &MessageHandler{
		messages: messages,
		metrics:  metrics,
		log:      log,
	}
}

// list 处理 GET /api/mailbox/:id/messages
func (h *MessageHandler) list(c *gin.Context) {
	sessionID := middleware.SessionID(c)
	mailboxID := c.Param("id")

	msgs, err := h.messages.List(c.Request.Context(), sessionID, mailboxID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Mailbox not found"})
			return
		}
		h.log.Error("failed to list messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	summaries := make([]messageSummary, 0, len(msgs))
	for i := range msgs {
		summaries = append(summaries, newMessageSummary(&msgs[i]))
	}

	c.JSON(http.StatusOK, messageListResponse{
		Messages: summaries,
		Count:    len(summaries),
	})
}

// get 处理 GET /api/messages/:id
//
// 查询成功即把邮件标记为已读；?headers=true 时返回原始头部。
func (h *MessageHandler) get(c *gin.Context) {
	sessionID := middleware.SessionID(c)
	messageID := c.Param("id")
	includeHeaders := c.Query("headers") == "true"

	msg, attachments, err := h.messages.Get(c.Request.Context(), sessionID, messageID, includeHeaders)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
			return
		}
		h.log.Error("failed to get message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.metrics.MessagesRead.Inc()
	c.JSON(http.StatusOK, newMessageDetail(msg, attachments))
}

// delete 处理 DELETE /api/messages/:id
func (h *MessageHandler) delete(c *gin.Context) {
	sessionID := middleware.SessionID(c)
	messageID := c.Param("id")

	if err := h.messages.Delete(c.Request.Context(), sessionID, messageID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
			return
		}
		h.log.Error("failed to delete message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.metrics.MessagesDeleted.Inc()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func newMessageSummary(msg *domain.Message) messageSummary {
	return messageSummary{
		ID:             msg.ID,
		From:           msg.DisplayFrom(),
		Subject:        displaySubject(msg.Subject),
		ReceivedAt:     msg.ReceivedAt,
		IsRead:         msg.IsRead,
		HasAttachments: msg.HasAttachments,
	}
}

func newMessageDetail(msg *domain.Message, attachments []domain.Attachment) messageDetailResponse {
	resp := messageDetailResponse{
		ID:             msg.ID,
		MailboxID:      msg.MailboxID,
		From:           msg.FromAddress,
		FromName:       msg.FromName,
		To:             msg.ToAddress,
		Subject:        displaySubject(msg.Subject),
		TextBody:       msg.TextBody,
		HTMLBody:       msg.HTMLBody,
		IsRead:         msg.IsRead,
		ReceivedAt:     msg.ReceivedAt,
		HasAttachments: msg.HasAttachments,
		Headers:        msg.RawHeaders,
	}

	for _, att := range attachments {
		resp.Attachments = append(resp.Attachments, attachmentItem{
			ID:          att.ID,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Size:        att.SizeBytes,
		})
	}

	return resp
}

func displaySubject(subject string) string {
	if subject == "" {
		return defaultSubject
	}
	return subject
}
