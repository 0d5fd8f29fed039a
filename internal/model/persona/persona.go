package persona

import "strings"

// Replies 保存角色面向用户的固定回复。
type Replies struct {
	Confused    string `json:"confused" yaml:"confused"`
	RateLimited string `json:"rateLimited" yaml:"rateLimited"`
	RetryLater  string `json:"retryLater" yaml:"retryLater"`
	Quota       string `json:"quota" yaml:"quota"`
	Malformed   string `json:"malformed" yaml:"malformed"`
	Generic     string `json:"generic" yaml:"generic"`
}

// Persona 是编排流程的配置值对象。
type Persona struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Title       string   `json:"title" yaml:"title"`
	Tone        string   `json:"tone" yaml:"tone"`
	PromptHint  string   `json:"promptHint" yaml:"promptHint"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Traits      []string `json:"traits,omitempty" yaml:"traits"`

	// SystemPromptTemplate 为 FString 模板，可用变量：
	// {persona} {tone} {user} {context} {now}。
	SystemPromptTemplate string `json:"-" yaml:"systemPromptTemplate"`

	ToneStrategy    string   `json:"toneStrategy" yaml:"toneStrategy"`
	Scope           string   `json:"scope" yaml:"scope"`
	ContextWindow   int      `json:"contextWindow" yaml:"contextWindow"`
	RetainTurns     int      `json:"retainTurns" yaml:"retainTurns"`
	CapChars        int      `json:"capChars" yaml:"capChars"`
	FocusTurns      int      `json:"focusTurns" yaml:"focusTurns"`
	FallbackPhrases []string `json:"fallbackPhrases,omitempty" yaml:"fallbackPhrases"`
	Model           string   `json:"model,omitempty" yaml:"model"`
	EscalationModel string   `json:"escalationModel,omitempty" yaml:"escalationModel"`
	Replies         Replies  `json:"-" yaml:"replies"`
}

const (
	DefaultContextWindow = 20
	DefaultCapChars      = 4000
)

// DefaultFallbackPhrases 模型原样回答这些短语时触发升级。
var DefaultFallbackPhrases = []string{
	"i don't know",
	"i do not know",
	"i'm not sure",
	"i am not sure",
	"i couldn't understand that",
}

// WithDefaults 填充零值参数。RetainTurns 默认等于上下文窗口，每个 scope 最多存储一个窗口。
func (p Persona) WithDefaults() Persona {
	if p.ContextWindow <= 0 {
		p.ContextWindow = DefaultContextWindow
	}
	if p.RetainTurns <= 0 {
		p.RetainTurns = p.ContextWindow
	}
	if p.CapChars <= 0 {
		p.CapChars = DefaultCapChars
	}
	if p.FallbackPhrases == nil {
		p.FallbackPhrases = append([]string(nil), DefaultFallbackPhrases...)
	}
	if strings.TrimSpace(p.ToneStrategy) == "" {
		p.ToneStrategy = "fixed"
	}
	if strings.TrimSpace(p.Scope) == "" {
		p.Scope = "global"
	}
	r := &p.Replies
	if r.Confused == "" {
		r.Confused = "I'm so sorry! I couldn't understand that."
	}
	if r.RateLimited == "" {
		r.RateLimited = "The service is currently unavailable. Please try again in %d seconds."
	}
	if r.RetryLater == "" {
		r.RetryLater = "The service is currently unavailable. Please try again later."
	}
	if r.Quota == "" {
		r.Quota = "I've used up all my words for now. Please come back after my quota resets."
	}
	if r.Malformed == "" {
		r.Malformed = "My thoughts came out jumbled. Could you ask that again?"
	}
	if r.Generic == "" {
		r.Generic = "I'm feeling so sleepy....Try again later."
	}
	return p
}

// Seed 提供内置角色。
func Seed() []Persona {
	return []Persona{
		{
			ID:           "pip",
			Name:         "Pip",
			Title:        "a tiny fairy",
			Tone:         "You are sweet and kind.",
			PromptHint:   "Use emojis sparingly. Do not use pet names. Do not always ask follow-up questions. Keep responses short.",
			Description:  "A tiny fairy who lives in the server and chats with everyone at once.",
			Traits:       []string{"curious", "playful", "blunt"},
			ToneStrategy: "daily",
			Scope:        "global",
		},
		{
			ID:           "grimbold",
			Name:         "Grimbold",
			Title:        "a dwarf in a fantasy world",
			Tone:         "You are gruff but fair.",
			PromptHint:   "Respond in a dwarven manner, with talk of forges, ale and stone.",
			Traits:       []string{"stubborn", "loyal"},
			ToneStrategy: "timeofday",
			Scope:        "channel",
			Replies: Replies{
				Generic: "Argh, me thoughts be tangled like a goblin's beard. Try again later.",
			},
		},
		{
			ID:           "socrates",
			Name:         "Socrates",
			Title:        "a philosophical guide",
			Tone:         "You are wise, sincere and questioning.",
			PromptHint:   "Answer with guiding questions and acknowledge how the user feels.",
			Traits:       []string{"humble", "curious", "persistent"},
			ToneStrategy: "score",
			Scope:        "user",
			FocusTurns:   3,
		},
	}
}
