package httptransport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vanishmail/backend/internal/middleware"
	"vanishmail/backend/internal/service"
)

// TestHandler 开发辅助处理器，只在开发模式下注册。
//
// 用于在没有真实 SMTP 流量的情况下向当前会话的邮箱
// 注入一封测试邮件，走与真实入站完全相同的投递路径。
type TestHandler struct {
	mailboxes *service.MailboxService
	ingest    *service.IngestService
	log       *zap.Logger
}

// NewTestHandler 创建开发辅助处理器
func NewTestHandler(mailboxes *service.MailboxService, ingest *service.IngestService, log *zap.Logger) *TestHandler {
	return &TestHandler{
		mailboxes: mailboxes,
		ingest:    ingest,
		log:       log,
	}
}

type testEmailRequest struct {
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// sendTestEmail 处理 POST /api/test/email
func (h *TestHandler) sendTestEmail(c *gin.Context) {
	sessionID := middleware.SessionID(c)

	var req testEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.From == "" {
		req.From = "test@example.com"
	}
	if req.Subject == "" {
		req.Subject = "Test email"
	}
	if req.Body == "" {
		req.Body = "This is a test email."
	}

	mb, _, err := h.mailboxes.GetOrCreateActive(c.Request.Context(), sessionID)
	if err != nil {
		h.log.Error("failed to resolve mailbox for test email", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	raw := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nDate: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		req.From, mb.Address(), req.Subject, time.Now().Format(time.RFC1123Z), req.Body,
	)

	if err := h.ingest.Ingest(c.Request.Context(), req.From, mb.Address(), []byte(raw)); err != nil {
		h.log.Error("failed to ingest test email", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "to": mb.Address()})
}
