package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vanishmail/backend/internal/domain"
	"vanishmail/backend/internal/storage"
)

// SessionCache 会话存活缓存接口，缓存未命中时回源数据库。
type SessionCache interface {
	MarkSessionLive(ctx context.Context, sessionID string, ttl time.Duration) error
	IsSessionLive(ctx context.Context, sessionID string) (bool, error)
}

// SessionService 负责匿名会话的建立与复用。
//
// 会话建立位于所有客户端请求的关键路径上，除存储故障外
// 不会失败；存储故障直接上抛，由请求层返回 500。
type SessionService struct {
	repo  storage.SessionRepository
	cache SessionCache // 可选
	log   *zap.Logger
	now   func() time.Time
}

// NewSessionService 创建会话业务服务。
func NewSessionService(repo storage.SessionRepository, log *zap.Logger) *SessionService {
	return &SessionService{
		repo: repo,
		log:  log,
		now:  time.Now,
	}
}

// SetCache 设置会话缓存（可选加速层）。
func (s *SessionService) SetCache(cache SessionCache) {
	s.cache = cache
}

// cacheTTL 存活标记的缓存时长，与会话 Cookie 的寿命一致。
const cacheTTL = 24 * time.Hour

// Establish 复用或创建会话。
//
// 客户端携带的 existingID 能解析到存活记录时直接复用
// (isNew=false)；否则生成新的全局唯一标识并持久化
// (isNew=true)。
func (s *SessionService) Establish(ctx context.Context, existingID string) (string, bool, error) {
	if existingID != "" {
		if s.resolve(ctx, existingID) {
			return existingID, false, nil
		}
	}

	session := &domain.Session{
		ID:        uuid.NewString(),
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return "", false, fmt.Errorf("create session: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.MarkSessionLive(ctx, session.ID, cacheTTL); err != nil {
			s.log.Debug("session cache write failed", zap.Error(err))
		}
	}

	s.log.Debug("session created", zap.String("session_id", session.ID))
	return session.ID, true, nil
}

// resolve 检查给定标识是否对应存活会话，缓存优先。
func (s *SessionService) resolve(ctx context.Context, id string) bool {
	if s.cache != nil {
		if live, err := s.cache.IsSessionLive(ctx, id); err == nil && live {
			return true
		}
	}

	_, err := s.repo.GetSession(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrSessionNotFound) {
			s.log.Warn("session lookup failed", zap.String("session_id", id), zap.Error(err))
		}
		return false
	}

	if s.cache != nil {
		if err := s.cache.MarkSessionLive(ctx, id, cacheTTL); err != nil {
			s.log.Debug("session cache write failed", zap.Error(err))
		}
	}
	return true
}
