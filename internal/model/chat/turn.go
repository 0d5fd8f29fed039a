package chat

import (
	"errors"
	"strings"
	"time"
)

// BotSender 标记仅由机器人产生的轮次。
const BotSender = "bot"

// ErrEmptyTurn 表示轮次既无用户文本也无机器人文本。
var ErrEmptyTurn = errors.New("turn has neither user nor bot text")

// Turn 是一次持久化的交互：用户消息与（或）机器人的回复。
type Turn struct {
	ID         int64     `json:"id"`
	Scope      string    `json:"scope"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName,omitempty"`
	UserText   string    `json:"userText,omitempty"`
	BotText    string    `json:"botText,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Validate 校验持久化轮次的约束。
func (t Turn) Validate() error {
	if strings.TrimSpace(t.UserText) == "" && strings.TrimSpace(t.BotText) == "" {
		return ErrEmptyTurn
	}
	if t.Scope == "" {
		return errors.New("turn scope is required")
	}
	return nil
}

// Newer 判断 t 是否比 other 更新。先比较时间戳，相同时比较 id。
func (t Turn) Newer(other Turn) bool {
	if t.Timestamp.Equal(other.Timestamp) {
		return t.ID > other.ID
	}
	return t.Timestamp.After(other.Timestamp)
}
