package domain

import (
	"fmt"
	"time"
)

// Mailbox 表示一个有时效的临时邮箱。
//
// 约束：
//   - 同一会话在任意时刻最多有一个 IsActive 且未过期的邮箱；
//   - (LocalPart, Domain) 在所有激活且未过期的邮箱中唯一，
//     这是入站路由按地址解析邮箱的前提。
type Mailbox struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	LocalPart string    `json:"local_part"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IsActive  bool      `json:"is_active"`
}

// Address 返回完整邮箱地址。
func (m *Mailbox) Address() string {
	return fmt.Sprintf("%s@%s", m.LocalPart, m.Domain)
}

// Expired 判断邮箱在给定时刻是否已过期。
func (m *Mailbox) Expired(now time.Time) bool {
	return !m.ExpiresAt.After(now)
}
