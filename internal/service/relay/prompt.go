package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/pipbot/internal/model/persona"
)

// DefaultSystemTemplate 在角色没有自定义模板时使用。自定义模板中的花括号需写成双括号。
const DefaultSystemTemplate = `You are {persona}.
{tone}
Keep your responses short and to the point.

Here is the message history:
{context}

The messages include timestamps. Prioritize responding to the most recent timestamp.
Don't dwell on past topics unless they are directly relevant. When told to move on from a topic, do so.
You speak with many different people. The person you are currently talking to is named {user}.
Participants appear in angle brackets, like <Name>. When you speak of someone, write their name the same way.
The current time is {now}.`

const escalationSystemPrompt = `Answer the question factually and concisely using up-to-date information. If you search the web, summarize what you found.`

const rewriteInstruction = `Someone asked: {question}

Here is a researched answer:
{answer}

Rewrite this answer in your own voice and reply to them directly.`

// promptVars 填充系统模板。
type promptVars struct {
	Tone       string
	User       string
	Context    string
	Question   string
	Referenced string
	Now        time.Time
}

// promptBuilder 通过 eino FString 模板渲染角色系统提示词与用户消息。
type promptBuilder struct {
	persona  string
	template prompt.ChatTemplate
	rewrite  prompt.ChatTemplate
}

func newPromptBuilder(ctx context.Context, p persona.Persona) (*promptBuilder, error) {
	system := strings.TrimSpace(p.SystemPromptTemplate)
	if system == "" {
		system = DefaultSystemTemplate
	}

	b := &promptBuilder{
		persona: describePersona(p),
		template: prompt.FromMessages(
			schema.FString,
			schema.SystemMessage(system),
			schema.UserMessage("{question}"),
		),
		rewrite: prompt.FromMessages(
			schema.FString,
			schema.SystemMessage(system),
			schema.UserMessage(rewriteInstruction),
		),
	}

	// 预渲染一次，模板有误时在启动阶段报错。
	if _, err := b.build(ctx, promptVars{Question: "ping", Now: time.Unix(0, 0)}); err != nil {
		return nil, fmt.Errorf("persona %s: invalid system prompt template: %w", p.ID, err)
	}
	return b, nil
}

func (b *promptBuilder) values(v promptVars) map[string]any {
	history := v.Context
	if strings.TrimSpace(history) == "" {
		history = "(no earlier messages)"
	}
	return map[string]any{
		"persona":  b.persona,
		"tone":     v.Tone,
		"user":     v.User,
		"context":  history,
		"now":      v.Now.UTC().Format(time.RFC3339),
		"question": userTurn(v.Question, v.Referenced),
	}
}

func (b *promptBuilder) build(ctx context.Context, v promptVars) ([]*schema.Message, error) {
	return b.template.Format(ctx, b.values(v))
}

func (b *promptBuilder) buildRewrite(ctx context.Context, v promptVars, answer string) ([]*schema.Message, error) {
	values := b.values(v)
	values["answer"] = answer
	return b.rewrite.Format(ctx, values)
}

func escalationMessages(question string) []*schema.Message {
	return []*schema.Message{
		schema.SystemMessage(escalationSystemPrompt),
		schema.UserMessage(question),
	}
}

func userTurn(question, referenced string) string {
	referenced = strings.TrimSpace(referenced)
	if referenced == "" {
		return question
	}
	return fmt.Sprintf("(replying to: %q)\n%s", referenced, question)
}

// describePersona 将身份字段压缩为 {persona} 变量。
func describePersona(p persona.Persona) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.Name))
	if title := strings.TrimSpace(p.Title); title != "" {
		b.WriteString(", ")
		b.WriteString(title)
	}
	if hint := strings.TrimSpace(p.PromptHint); hint != "" {
		b.WriteString(". ")
		b.WriteString(hint)
	}
	if len(p.Traits) > 0 {
		b.WriteString(" Traits: ")
		b.WriteString(strings.Join(p.Traits, ", "))
	}
	return b.String()
}
