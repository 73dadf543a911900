package domain

import "time"

// Session 表示一个匿名客户端会话。
//
// 会话在客户端第一次访问时创建，之后通过 HttpOnly Cookie 携带。
// 一个会话在任意时刻最多拥有一个处于激活状态且未过期的邮箱。
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}
