package mailparse

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"

	"vanishmail/backend/internal/domain"
)

// ParsedEmail 表示解析后的邮件内容。
//
// 附件只保留元数据，内容读完统计大小后即丢弃。
type ParsedEmail struct {
	FromAddress string
	FromName    string
	Subject     string
	Text        string
	HTML        string
	Headers     map[string]string
	Attachments []domain.Attachment
}

// ParseEmail 将一封原始邮件分解为结构化内容。
//
// 只有顶层信封无法按 MIME 解析时才返回错误；个别部分
// （如某个损坏的附件）解析失败会被就地吸收，不影响整体。
func ParseEmail(rawEmail []byte) (*ParsedEmail, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(rawEmail))
	if err != nil {
		return nil, fmt.Errorf("parse mail: %w", err)
	}

	parsed := &ParsedEmail{
		Subject:     decodeHeader(msg.Header.Get("Subject")),
		Headers:     flattenHeaders(msg.Header),
		Attachments: make([]domain.Attachment, 0),
	}
	parsed.FromAddress, parsed.FromName = parseFrom(msg.Header.Get("From"))

	contentType := msg.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// 没有 Content-Type 或解析失败，当作纯文本处理
		body, _ := io.ReadAll(msg.Body)
		parsed.Text = string(body)
		return parsed, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			// 结构退化：声明了 multipart 却没有 boundary，
			// 按纯文本兜底而不是丢弃整封邮件
			body, _ := io.ReadAll(msg.Body)
			parsed.Text = string(body)
			return parsed, nil
		}

		mr := multipart.NewReader(msg.Body, boundary)
		parseMultipart(mr, parsed)
	} else {
		body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"), params["charset"])
		if err != nil {
			// 正文不可解码同样不致命，两个正文都允许为空
			return parsed, nil
		}

		if strings.HasPrefix(mediaType, "text/html") {
			parsed.HTML = body
		} else {
			parsed.Text = body
		}
	}

	return parsed, nil
}

// flattenHeaders 将顶层头部压平为 name -> value 映射。
// 同名头部重复出现时取最后一个值。
func flattenHeaders(header mail.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for name, values := range header {
		if len(values) == 0 {
			continue
		}
		flat[name] = values[len(values)-1]
	}
	return flat
}

// parseFrom 解析 From 头部，返回地址与显示名。
// 头部不可解析时地址为空，由调用方以信封发件人兜底；
// 原始字符串保留为显示名。
func parseFrom(value string) (address, name string) {
	if value == "" {
		return "", ""
	}
	addr, err := mail.ParseAddress(decodeHeader(value))
	if err != nil {
		return "", strings.TrimSpace(value)
	}
	return addr.Address, addr.Name
}

// parseMultipart 递归解析多部分邮件。
//
// 遍历中的任何错误都只终止遍历本身，已经提取的内容保留。
func parseMultipart(mr *multipart.Reader, parsed *ParsedEmail) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return
		}

		contentType := part.Header.Get("Content-Type")
		mediaType, params, err := mime.ParseMediaType(contentType)
		if err != nil {
			mediaType = "text/plain"
		}

		// 检查是否是附件
		disposition := part.Header.Get("Content-Disposition")
		if disposition != "" {
			dispType, dispParams, _ := mime.ParseMediaType(disposition)
			if dispType == "attachment" || (dispType == "inline" && dispParams["filename"] != "") {
				if att, ok := extractAttachmentMeta(part, mediaType, params, dispParams); ok {
					parsed.Attachments = append(parsed.Attachments, att)
				}
				continue
			}
		}

		// 处理嵌套的 multipart
		if strings.HasPrefix(mediaType, "multipart/") {
			boundary := params["boundary"]
			if boundary != "" {
				parseMultipart(multipart.NewReader(part, boundary), parsed)
			}
			continue
		}

		body, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"), params["charset"])
		if err != nil {
			continue
		}

		if strings.HasPrefix(mediaType, "text/html") {
			if parsed.HTML == "" {
				parsed.HTML = body
			}
		} else if strings.HasPrefix(mediaType, "text/plain") {
			if parsed.Text == "" {
				parsed.Text = body
			}
		}
	}
}

// extractAttachmentMeta 读取附件部分并只保留元数据。
// 附件损坏（如 base64 非法）时返回 ok=false，由调用方跳过。
func extractAttachmentMeta(part *multipart.Part, mediaType string, params, dispParams map[string]string) (domain.Attachment, bool) {
	filename := dispParams["filename"]
	if filename == "" {
		filename = params["name"]
	}
	if filename == "" {
		filename = "unnamed"
	}
	filename = decodeHeader(filename)

	var reader io.Reader = part
	if strings.EqualFold(strings.TrimSpace(part.Header.Get("Content-Transfer-Encoding")), "base64") {
		reader = base64.NewDecoder(base64.StdEncoding, part)
	}

	// 内容只为统计大小流过一遍，不落任何存储
	size, err := io.Copy(io.Discard, reader)
	if err != nil {
		return domain.Attachment{}, false
	}

	return domain.Attachment{
		Filename:    filename,
		ContentType: mediaType,
		SizeBytes:   size,
	}, true
}

// decodeBody 根据传输编码与字符集解码邮件体。
func decodeBody(reader io.Reader, transferEncoding string, charset string) (string, error) {
	transferEncoding = strings.ToLower(strings.TrimSpace(transferEncoding))

	var decoded io.Reader
	switch transferEncoding {
	case "base64":
		decoded = base64.NewDecoder(base64.StdEncoding, reader)
	case "quoted-printable":
		decoded = quotedprintable.NewReader(reader)
	default:
		// 7bit / 8bit / binary / 未知编码，直接读取
		decoded = reader
	}

	body, err := io.ReadAll(decoded)
	if err != nil {
		return "", err
	}

	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset != "" && charset != "utf-8" && charset != "us-ascii" {
		if enc := getCharsetEncoding(charset); enc != nil {
			converted, _, err := transform.Bytes(enc.NewDecoder(), body)
			if err == nil {
				body = converted
			}
		}
	}

	return string(body), nil
}

// getCharsetEncoding 根据字符集名称返回编码器
func getCharsetEncoding(charset string) encoding.Encoding {
	switch charset {
	case "gb2312", "gbk", "gb18030":
		return simplifiedchinese.GBK
	case "big5":
		return traditionalchinese.Big5
	case "iso-2022-jp", "shift_jis", "euc-jp":
		return japanese.ShiftJIS
	case "euc-kr", "ks_c_5601-1987":
		return korean.EUCKR
	default:
		return nil
	}
}

// decodeHeader 解码 RFC 2047 编码的头部值。
func decodeHeader(value string) string {
	if value == "" {
		return value
	}
	decoder := new(mime.WordDecoder)
	decoded, err := decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
