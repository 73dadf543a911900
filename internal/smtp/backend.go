package smtp

import (
	"context"
	"io"
	"strings"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"vanishmail/backend/internal/service"
)

// Backend 实现 go-smtp 的 Backend 接口。
//
// 这是一个只接收邮件的 SMTP 服务器（Receiving-Only SMTP Server）：
// - 只接受发往本系统管理域名的邮件，外部域名一律 550 拒绝
// - 不支持对外发送邮件（无邮件中继功能）
//
// 收件域名正确但邮箱不存在或已过期时，邮件在 DATA 之后
// 静默丢弃而不是在 RCPT 阶段拒绝，避免被用来探测
// 哪些临时地址正在使用中。
type Backend struct {
	ingest  *service.IngestService
	domains []string
	maxSize int64
	limiter *ConnectionLimiter
	log     *zap.Logger
}

// NewBackend 创建 SMTP Backend。
//
// domains 是本服务器接收邮件的域名列表；
// maxMessageMB 是单封邮件的大小上限。
func NewBackend(ingest *service.IngestService, domains []string, maxMessageMB int, limiter *ConnectionLimiter, log *zap.Logger) *Backend {
	return &Backend{
		ingest:  ingest,
		domains: domains,
		maxSize: int64(maxMessageMB) << 20,
		limiter: limiter,
		log:     log,
	}
}

// NewSession 创建新的 SMTP 会话。
//
// 并发连接或新建速率超限时直接拒绝，对端收到 421。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	if b.limiter != nil && !b.limiter.Acquire() {
		b.log.Warn("smtp connection rejected by limiter",
			zap.Int("current", b.limiter.Current()))
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 4, 5},
			Message:      "too many connections, try again later",
		}
	}
	return &session{
		backend: b,
	}, nil
}

type session struct {
	backend     *Backend
	fromAddress string
	recipients  []string
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, opts *gosmtp.MailOptions) error {
	s.fromAddress = normalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 此方法是防止邮件中继的核心：只接受发往本系统管理域名
// 的收件人，其余一律拒绝。注意这里只校验域名，不查询
// 邮箱是否存在。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)

	_, recipientDomain, ok := strings.Cut(addr, "@")
	if !ok || recipientDomain == "" {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	domainAllowed := false
	for _, d := range s.backend.domains {
		if strings.EqualFold(d, recipientDomain) {
			domainAllowed = true
			break
		}
	}
	if !domainAllowed {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied - domain not managed by this server",
		}
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 处理邮件内容。
//
// 每个收件人单独投递；路由失败的收件人被静默跳过，
// 只有顶层 MIME 结构不可解析时才向发送端返回错误。
func (s *session) Data(r io.Reader) error {
	rawBytes, err := io.ReadAll(io.LimitReader(r, s.backend.maxSize))
	if err != nil {
		return err
	}

	ctx := context.Background()
	for _, rcpt := range s.recipients {
		if err := s.backend.ingest.Ingest(ctx, s.fromAddress, rcpt, rawBytes); err != nil {
			return &gosmtp.SMTPError{
				Code:         554,
				EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
				Message:      "message rejected: content could not be processed",
			}
		}
	}

	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.fromAddress = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	if s.backend.limiter != nil {
		s.backend.limiter.Release()
	}
	return nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}
