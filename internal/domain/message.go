package domain

import "time"

// Message 表示一封投递到临时邮箱的邮件。
//
// 邮件归属于唯一的 Mailbox；邮箱被替换或清理后，
// 邮件随所有权校验一起变得不可达。
type Message struct {
	ID             string            `json:"id"`
	MailboxID      string            `json:"mailbox_id"`
	FromAddress    string            `json:"from_address"`
	FromName       string            `json:"from_name,omitempty"`
	ToAddress      string            `json:"to_address"`
	Subject        string            `json:"subject,omitempty"`
	TextBody       string            `json:"text_body,omitempty"`
	HTMLBody       string            `json:"html_body,omitempty"`
	RawHeaders     map[string]string `json:"raw_headers,omitempty"`
	HasAttachments bool              `json:"has_attachments"`
	IsRead         bool              `json:"is_read"`
	ReceivedAt     time.Time         `json:"received_at"`
}

// DisplayFrom 返回用于展示的发件人，格式 "Name <addr>"。
func (m *Message) DisplayFrom() string {
	if m.FromName != "" {
		return m.FromName + " <" + m.FromAddress + ">"
	}
	return m.FromAddress
}
