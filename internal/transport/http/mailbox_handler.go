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

// mailboxResponse 邮箱响应
type mailboxResponse struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	LocalPart  string    `json:"local_part"`
	Domain     string    `json:"domain"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	TTLSeconds int       `json:"ttl_seconds"`
}

func newMailboxResponse(mb *domain.Mailbox, ttlSeconds int) mailboxResponse {
	return mailboxResponse{
		ID:         mb.ID,
		Email:      mb.Address(),
		LocalPart:  mb.LocalPart,
		Domain:     mb.Domain,
		CreatedAt:  mb.CreatedAt,
		ExpiresAt:  mb.ExpiresAt,
		TTLSeconds: ttlSeconds,
	}
}

// MailboxHandler 邮箱处理器
type MailboxHandler struct {
	mailboxes *service.MailboxService
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// NewMailboxHandler 创建邮箱处理器
func NewMailboxHandler(mailboxes *service.MailboxService, metrics *monitoring.Metrics, log *zap.Logger) *MailboxHandler {
	return &MailboxHandler{
		mailboxes: mailboxes,
		metrics:   metrics,
		log:       log,
	}
}

// getOrCreate 处理 GET /api/mailbox
//
// 会话已有活跃邮箱时返回该邮箱，否则创建一个新邮箱。
// 两种情况都返回 200。
func (h *MailboxHandler) getOrCreate(c *gin.Context) {
	sessionID := middleware.SessionID(c)

	mb, ttlSeconds, err := h.mailboxes.GetOrCreateActive(c.Request.Context(), sessionID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, newMailboxResponse(mb, ttlSeconds))
}

// create 处理 POST /api/mailbox
//
// 无条件签发一个新邮箱，会话此前的活跃邮箱全部停用。
func (h *MailboxHandler) create(c *gin.Context) {
	sessionID := middleware.SessionID(c)

	mb, ttlSeconds, err := h.mailboxes.Create(c.Request.Context(), sessionID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	h.metrics.MailboxesCreated.Inc()
	c.JSON(http.StatusCreated, newMailboxResponse(mb, ttlSeconds))
}

func (h *MailboxHandler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAddressConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Could not allocate a mailbox address"})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Mailbox not found"})
	default:
		h.log.Error("mailbox request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
