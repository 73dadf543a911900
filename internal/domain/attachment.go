package domain

// Attachment 表示邮件附件的元数据。
//
// 只保留元数据，附件内容在解析后即丢弃。
type Attachment struct {
	ID          string `json:"id"`
	MessageID   string `json:"message_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}
