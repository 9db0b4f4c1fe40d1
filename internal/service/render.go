package service

import (
	"strings"
	"unicode/utf8"

	"BulkSMS/pkg/errors"
)

// Renderer 在正文后追加退订尾注，超长时按词截断正文，尾注始终完整保留
type Renderer struct {
	Footer    string
	MaxLength int // 以字符计，0 表示不限制
}

func NewRenderer(footer string, maxLength int) *Renderer {
	return &Renderer{Footer: strings.TrimSpace(footer), MaxLength: maxLength}
}

func (r *Renderer) Render(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", errors.MessageEmpty
	}

	suffix := ""
	if r.Footer != "" {
		suffix = "\n" + r.Footer
	}
	if r.MaxLength <= 0 {
		return body + suffix, nil
	}

	room := r.MaxLength - utf8.RuneCountInString(suffix)
	if room <= 0 {
		return "", errors.MessageTooLong.WithMessage("unsubscribe footer exceeds the message ceiling")
	}
	if utf8.RuneCountInString(body) > room {
		body = truncateWords([]rune(body), room)
		if body == "" {
			return "", errors.MessageTooLong
		}
	}
	return body + suffix, nil
}

// truncateWords 截到 limit 个字符以内，尽量停在空白处；单个词超长时硬截断
func truncateWords(runes []rune, limit int) string {
	cut := runes[:limit]
	if !isSpace(runes[limit]) {
		for i := len(cut) - 1; i > 0; i-- {
			if isSpace(cut[i]) {
				cut = cut[:i]
				break
			}
		}
	}
	return strings.TrimRightFunc(string(cut), isSpace)
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
