package chat

import "time"

// Inbound 是平台转交的消息到达事件。
type Inbound struct {
	EventID             string    `json:"eventId,omitempty"`
	Platform            string    `json:"platform,omitempty"`
	ChannelID           string    `json:"channelId,omitempty"`
	SenderID            string    `json:"senderId"`
	SenderName          string    `json:"senderName,omitempty"`
	Text                string    `json:"text"`
	MentionsBot         bool      `json:"mentionsBot"`
	IsBroadcastMention  bool      `json:"isBroadcastMention"`
	ReferencedMessageID string    `json:"referencedMessageId,omitempty"`
	ReferencedText      string    `json:"referencedText,omitempty"`
	ReceivedAt          time.Time `json:"receivedAt,omitempty"`
}

// ScopeMode 决定对话轮次按何种方式分组读取。
type ScopeMode string

const (
	ScopeGlobal  ScopeMode = "global"
	ScopeChannel ScopeMode = "channel"
	ScopeUser    ScopeMode = "user"
)

// ScopeKey 计算事件的分组键，缺少频道或发送者 id 时回退到全局 scope。
func (m ScopeMode) ScopeKey(ev Inbound) string {
	switch m {
	case ScopeChannel:
		if ev.ChannelID != "" {
			return "channel:" + ev.ChannelID
		}
	case ScopeUser:
		if ev.SenderID != "" {
			return "user:" + ev.SenderID
		}
	}
	return string(ScopeGlobal)
}

// ParseScopeMode 规范化配置中的 scope 模式。
func ParseScopeMode(raw string) (ScopeMode, bool) {
	switch ScopeMode(raw) {
	case ScopeGlobal, "":
		return ScopeGlobal, true
	case ScopeChannel:
		return ScopeChannel, true
	case ScopeUser:
		return ScopeUser, true
	default:
		return "", false
	}
}
