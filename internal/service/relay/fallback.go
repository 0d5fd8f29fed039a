package relay

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/zhouzirui/pipbot/internal/model/persona"
	"github.com/zhouzirui/pipbot/internal/service/ai"
)

func normalizePhrase(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "’", "'")
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '\'')
	})
	s = strings.Trim(s, "'")
	return strings.Join(strings.Fields(s), " ")
}

// isFallback 判断模型回答是否无效：为空，或忽略大小写与首尾标点后等于某个兜底短语。
func isFallback(answer string, phrases []string) bool {
	normalized := normalizePhrase(answer)
	if normalized == "" {
		return true
	}
	for _, phrase := range phrases {
		if p := normalizePhrase(phrase); p != "" && p == normalized {
			return true
		}
	}
	return false
}

// failureReply 将补全失败类别映射为角色的固定回复。
func failureReply(r persona.Replies, ce *ai.CompletionError) string {
	if ce == nil {
		return r.Generic
	}
	switch ce.Kind {
	case ai.KindRateLimited:
		if secs := ce.RetryAfterSeconds(); secs > 0 && strings.Contains(r.RateLimited, "%d") {
			return fmt.Sprintf(r.RateLimited, secs)
		}
		return r.RetryLater
	case ai.KindQuotaExceeded:
		return r.Quota
	case ai.KindMalformed:
		return r.Malformed
	default:
		return r.Generic
	}
}
