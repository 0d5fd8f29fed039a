// Package mention 在平台提及标记（如 <@1234>）与提示词中使用的 <显示名> 形式之间互相转换。
//
// 往返转换是有损的：两个同名用户会被解码为解析器返回的那个 id，
// 调用方不能假设 Decode(Encode(x)) == x。
package mention

import (
	"regexp"
	"strings"
)

const unknownPrefix = "UnknownUser:"

// DefaultIDPattern 匹配 Discord 风格的数字 id。
const DefaultIDPattern = `[0-9]+`

// Codec 执行提及转换。零值不可用，请使用 New 创建。
type Codec struct {
	mentionRe *regexp.Regexp
	displayRe *regexp.Regexp
	unknownRe *regexp.Regexp
}

// Option 定制 Codec。
type Option func(*options)

type options struct {
	idPattern string
}

// WithIDPattern 覆盖 id 的匹配规则，例如 Slack 用户 id 使用 `[A-Z0-9]+`。
func WithIDPattern(pattern string) Option {
	return func(o *options) {
		o.idPattern = pattern
	}
}

// New 编译并返回 Codec。
func New(opts ...Option) (*Codec, error) {
	o := options{idPattern: DefaultIDPattern}
	for _, opt := range opts {
		opt(&o)
	}

	mentionRe, err := regexp.Compile(`<@!?(` + o.idPattern + `)>`)
	if err != nil {
		return nil, err
	}
	unknownRe, err := regexp.Compile(`<` + unknownPrefix + `(` + o.idPattern + `)>`)
	if err != nil {
		return nil, err
	}

	return &Codec{
		mentionRe: mentionRe,
		displayRe: regexp.MustCompile(`<([^<>@!\n]{1,64})>`),
		unknownRe: unknownRe,
	}, nil
}

// MustNew 用于静态规则，出错时 panic。
func MustNew(opts ...Option) *Codec {
	c, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Encode 将每个平台提及替换为 <显示名>。无法解析的 id 变为 <UnknownUser:id>，
// 以便仍可区分。
func (c *Codec) Encode(text string, resolveName func(id string) (string, bool)) string {
	if !strings.Contains(text, "<@") {
		return text
	}
	return c.mentionRe.ReplaceAllStringFunc(text, func(match string) string {
		id := c.mentionRe.FindStringSubmatch(match)[1]
		if resolveName != nil {
			if name, ok := resolveName(id); ok && validDisplayName(name) {
				return "<" + name + ">"
			}
		}
		return "<" + unknownPrefix + id + ">"
	})
}

// Decode 将模型输出中的 <显示名> 还原为平台提及，无法解析的名称保持原样。
func (c *Codec) Decode(text string, resolveID func(name string) (string, bool)) string {
	if !strings.Contains(text, "<") {
		return text
	}
	text = c.unknownRe.ReplaceAllString(text, "<@$1>")
	if resolveID == nil {
		return text
	}
	return c.displayRe.ReplaceAllStringFunc(text, func(match string) string {
		name := strings.TrimSpace(match[1 : len(match)-1])
		if id, ok := resolveID(name); ok && id != "" {
			return "<@" + id + ">"
		}
		return match
	})
}

// StripBotMention 去掉所有对 botID 的提及并裁剪首尾空白，保留其余排版。
func (c *Codec) StripBotMention(text, botID string) string {
	if botID == "" {
		return strings.TrimSpace(text)
	}
	stripped := c.mentionRe.ReplaceAllStringFunc(text, func(match string) string {
		if c.mentionRe.FindStringSubmatch(match)[1] == botID {
			return ""
		}
		return match
	})
	return strings.TrimSpace(stripped)
}

var broadcastTokens = []string{"@everyone", "@here", "<!everyone>", "<!here>", "<!channel>"}

// IsBroadcast 判断文本是否包含广播提及。
func IsBroadcast(text string) bool {
	for _, token := range broadcastTokens {
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}

func validDisplayName(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && len(name) <= 64 && !strings.ContainsAny(name, "<>@!\n")
}
