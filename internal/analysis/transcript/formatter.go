// Package transcript 将存储的对话轮次渲染为送入模型的上下文文本。
package transcript

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zhouzirui/pipbot/internal/model/chat"
)

const (
	DefaultSeparator = "-----"

	FocusMarker = "CURRENT FOCUS"
	OlderMarker = "OLDER"
)

// Entry 表示序列化前的一行记录。
type Entry struct {
	TurnID    int64
	Timestamp time.Time
	Speaker   string
	Text      string
	Marker    string
	FromBot   bool
}

// Formatter 负责渲染对话轮次。零值使用 "[bot]" 作为机器人标签，
// 并以原始发送者 id 作为说话人标签。
type Formatter struct {
	// BotName 机器人回复所用的说话人标签。
	BotName string
	// Speaker 返回用户一侧的标签，例如 "<Alice>"。
	Speaker func(chat.Turn) string
	// Separator 轮次之间的分隔行。
	Separator string
	// FocusTurns 大于 0 时，为最新的 FocusTurns 轮加上关注标记。
	FocusTurns int
}

// Chronological 返回按时间正序排列的副本。
func Chronological(turns []chat.Turn) []chat.Turn {
	ordered := append([]chat.Turn(nil), turns...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[j].Newer(ordered[i])
	})
	return ordered
}

// Entries 构建结构化的对话记录，最旧的在前。
func (f Formatter) Entries(turns []chat.Turn) [][]Entry {
	ordered := Chronological(turns)
	blocks := make([][]Entry, 0, len(ordered))
	for i, turn := range ordered {
		marker := ""
		if f.FocusTurns > 0 {
			marker = OlderMarker
			if i >= len(ordered)-f.FocusTurns {
				marker = FocusMarker
			}
		}

		block := make([]Entry, 0, 2)
		if text := strings.TrimSpace(turn.UserText); text != "" {
			block = append(block, Entry{
				TurnID:    turn.ID,
				Timestamp: turn.Timestamp,
				Speaker:   f.speaker(turn),
				Text:      text,
				Marker:    marker,
			})
		}
		if text := strings.TrimSpace(turn.BotText); text != "" {
			block = append(block, Entry{
				TurnID:    turn.ID,
				Timestamp: turn.Timestamp,
				Speaker:   f.botName(),
				Text:      text,
				Marker:    marker,
				FromBot:   true,
			})
		}
		if len(block) > 0 {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// Render 将轮次序列化为不超过 capChars 个字符的文本。
// 超出部分从最旧的字符开始丢弃，最新内容始终保留。capChars <= 0 表示不限制。
func (f Formatter) Render(turns []chat.Turn, capChars int) string {
	blocks := f.Entries(turns)
	sep := f.Separator
	if sep == "" {
		sep = DefaultSeparator
	}

	var b strings.Builder
	for i, block := range blocks {
		if i > 0 {
			b.WriteString("\n")
			b.WriteString(sep)
			b.WriteString("\n")
		}
		for j, entry := range block {
			if j > 0 {
				b.WriteString("\n")
			}
			writeEntry(&b, entry)
		}
	}
	return Tail(b.String(), capChars)
}

// Tail 保留 s 的最后 n 个字符，n <= 0 时原样返回。
func Tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	count := utf8.RuneCountInString(s)
	if count <= n {
		return s
	}
	drop := count - n
	for i := range s {
		if drop == 0 {
			return s[i:]
		}
		drop--
	}
	return ""
}

func writeEntry(b *strings.Builder, e Entry) {
	if e.Marker != "" {
		b.WriteString("(")
		b.WriteString(e.Marker)
		b.WriteString(") ")
	}
	b.WriteString("[")
	b.WriteString(e.Timestamp.UTC().Format(time.RFC3339))
	b.WriteString("] ")
	b.WriteString(e.Speaker)
	b.WriteString(": ")
	b.WriteString(e.Text)
}

func (f Formatter) speaker(turn chat.Turn) string {
	if f.Speaker != nil {
		if tag := f.Speaker(turn); tag != "" {
			return tag
		}
	}
	if turn.SenderName != "" {
		return "<" + turn.SenderName + ">"
	}
	return "<" + turn.SenderID + ">"
}

func (f Formatter) botName() string {
	if f.BotName == "" {
		return "[bot]"
	}
	return f.BotName
}
