package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vanishmail/backend/internal/config"
	"vanishmail/backend/internal/domain"
	"vanishmail/backend/internal/storage"
)

var (
	// ErrAddressConflict 有限次重试后地址仍然冲突
	ErrAddressConflict = errors.New("address conflicts exhausted retries")
	// ErrNotFound 目标不存在，或不归当前会话所有。
	// 两种情况对调用方刻意不可区分，避免泄露资源是否存在。
	ErrNotFound = errors.New("not found")
)

const (
	localPartAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	localPartLength   = 10
	// createAttempts 地址冲突时的重试上限。冲突本质上是并发创建
	// 之间的竞态，换一个随机本地部分重试即可。
	createAttempts = 3
)

// MailboxService 管理临时邮箱的生命周期。
type MailboxService struct {
	repo storage.MailboxRepository
	cfg  *config.Config
	log  *zap.Logger

	now          func() time.Time
	genLocalPart func() string
}

// NewMailboxService 创建邮箱生命周期服务。
func NewMailboxService(repo storage.MailboxRepository, cfg *config.Config, log *zap.Logger) *MailboxService {
	return &MailboxService{
		repo:         repo,
		cfg:          cfg,
		log:          log,
		now:          time.Now,
		genLocalPart: func() string { return generateLocalPart(localPartLength) },
	}
}

// generateLocalPart 生成随机邮箱本地部分。
//
// 固定小写字母数字字母表，逐字符均匀随机；生成时不做唯一性
// 检查，唯一性由存储层的激活地址约束兜底。
func generateLocalPart(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = localPartAlphabet[rand.Intn(len(localPartAlphabet))]
	}
	return string(b)
}

// GetOrCreateActive 返回会话当前的激活邮箱，没有则创建。
//
// 返回的 ttlSeconds 为剩余生存秒数；复用已有邮箱时按存储的
// 过期时间计算，新建时直接取配置值，避免时钟偏差造成的毛刺。
func (s *MailboxService) GetOrCreateActive(ctx context.Context, sessionID string) (*domain.Mailbox, int, error) {
	now := s.now().UTC()
	mailbox, err := s.repo.GetActiveMailboxBySession(ctx, sessionID, now)
	if err == nil {
		ttlSeconds := int(mailbox.ExpiresAt.Sub(now).Seconds())
		return mailbox, ttlSeconds, nil
	}
	if !errors.Is(err, storage.ErrMailboxNotFound) {
		return nil, 0, fmt.Errorf("lookup active mailbox: %w", err)
	}

	return s.Create(ctx, sessionID)
}

// Create 为会话创建新的激活邮箱。
//
// 先停用会话名下的全部邮箱（无论状态），再插入新邮箱；
// 两步之间没有跨语句的原子性保证，并发创建可能短暂留下
// 多个激活邮箱，查询侧按 created_at 取最新一个来容忍。
func (s *MailboxService) Create(ctx context.Context, sessionID string) (*domain.Mailbox, int, error) {
	if err := s.repo.DeactivateMailboxesBySession(ctx, sessionID); err != nil {
		return nil, 0, fmt.Errorf("deactivate prior mailboxes: %w", err)
	}

	now := s.now().UTC()
	domainName := s.cfg.Mailbox.Domains[0]

	for attempt := 0; attempt < createAttempts; attempt++ {
		mailbox := &domain.Mailbox{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			LocalPart: s.genLocalPart(),
			Domain:    domainName,
			CreatedAt: now,
			ExpiresAt: now.Add(s.cfg.Mailbox.TTL),
			IsActive:  true,
		}

		err := s.repo.CreateMailbox(ctx, mailbox)
		if err == nil {
			s.log.Info("mailbox created",
				zap.String("mailbox_id", mailbox.ID),
				zap.String("address", mailbox.Address()),
				zap.Time("expires_at", mailbox.ExpiresAt),
			)
			return mailbox, int(s.cfg.Mailbox.TTL.Seconds()), nil
		}
		if errors.Is(err, storage.ErrAddressTaken) {
			s.log.Warn("mailbox address collision, regenerating",
				zap.String("local_part", mailbox.LocalPart),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		return nil, 0, fmt.Errorf("create mailbox: %w", err)
	}

	return nil, 0, ErrAddressConflict
}

// ResolveActiveByAddress 按地址解析激活且未过期的邮箱。
//
// 匹配不区分大小写；仅供入站路由使用。
func (s *MailboxService) ResolveActiveByAddress(ctx context.Context, localPart, domainName string) (*domain.Mailbox, error) {
	localPart = strings.ToLower(strings.TrimSpace(localPart))
	domainName = strings.ToLower(strings.TrimSpace(domainName))
	if localPart == "" || domainName == "" {
		return nil, ErrNotFound
	}

	mailbox, err := s.repo.GetActiveMailboxByAddress(ctx, localPart, domainName, s.now().UTC())
	if errors.Is(err, storage.ErrMailboxNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve mailbox by address: %w", err)
	}
	return mailbox, nil
}

// SweepExpired 批量停用已过期的邮箱，并按保留策略清除
// 长期过期邮箱内的邮件。返回停用数量。
//
// 操作幂等，可与自身及普通请求并发执行。
func (s *MailboxService) SweepExpired(ctx context.Context) (int, error) {
	now := s.now().UTC()
	count, err := s.repo.DeactivateExpiredMailboxes(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired mailboxes: %w", err)
	}

	if s.cfg.Mailbox.PurgeAfter > 0 {
		cutoff := now.Add(-s.cfg.Mailbox.PurgeAfter)
		purged, err := s.repo.PurgeMessagesExpiredBefore(ctx, cutoff)
		if err != nil {
			// 清除失败不影响本次停用结果，留给下一轮
			s.log.Error("purge of expired mailbox messages failed", zap.Error(err))
		} else if purged > 0 {
			s.log.Info("purged messages of long-expired mailboxes", zap.Int("count", purged))
		}
	}

	return count, nil
}

// Get 根据 ID 获取邮箱（不限状态）。
func (s *MailboxService) Get(ctx context.Context, id string) (*domain.Mailbox, error) {
	mailbox, err := s.repo.GetMailbox(ctx, id)
	if errors.Is(err, storage.ErrMailboxNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mailbox: %w", err)
	}
	return mailbox, nil
}
