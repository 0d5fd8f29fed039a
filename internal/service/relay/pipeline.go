// Package relay 实现逐条消息的编排流程：读取上下文、选择语气、构建提示词、
// 调用模型、回复，最后持久化本轮对话。
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/pipbot/internal/analysis/mention"
	"github.com/zhouzirui/pipbot/internal/analysis/transcript"
	"github.com/zhouzirui/pipbot/internal/model/chat"
	"github.com/zhouzirui/pipbot/internal/model/persona"
	"github.com/zhouzirui/pipbot/internal/service/ai"
	"github.com/zhouzirui/pipbot/internal/service/emotion"
)

// State 表示流程阶段，Handle 返回事件结束时所处的阶段。
type State string

const (
	StateIdle           State = "idle"
	StateIgnored        State = "ignored"
	StateContextFetched State = "context_fetched"
	StateToneSelected   State = "tone_selected"
	StatePromptBuilt    State = "prompt_built"
	StateModelCalled    State = "model_called"
	StateReplied        State = "replied"
	StateEscalated      State = "escalated"
	StateFailed         State = "failed"
)

const pruneTimeout = 30 * time.Second

// ReplyFunc 将文本回复给平台，错误只记录日志。
type ReplyFunc func(ctx context.Context, text string) error

// TurnStore 是流程所需的存储子集。
type TurnStore interface {
	Append(ctx context.Context, turn chat.Turn) (chat.Turn, error)
	RecentTurns(ctx context.Context, scope string, limit int) ([]chat.Turn, error)
	Prune(ctx context.Context, scope string, keep int) (int64, error)
}

// ToneSelector 为消息选择语气。
type ToneSelector interface {
	Select(ctx context.Context, req emotion.Request) emotion.Tone
}

// Outcome 汇总一次事件的处理结果。
type Outcome struct {
	State   State        `json:"state"`
	Scope   string       `json:"scope,omitempty"`
	Reply   string       `json:"reply,omitempty"`
	Tone    emotion.Tone `json:"tone"`
	Model   string       `json:"model,omitempty"`
	Failure ai.Kind      `json:"failure,omitempty"`
}

// Options 配置 Pipeline。
type Options struct {
	Persona   persona.Persona
	Store     TurnStore
	Completer ai.Completer
	Selector  ToneSelector
	Codec     *mention.Codec
	Directory *mention.Directory
	// BotID 会从入站文本中去除。
	BotID string
	// 角色未指定时使用 Model 与 EscalationModel。
	Model           string
	EscalationModel string
	Timeout         time.Duration
	Logger          *zap.Logger
	Now             func() time.Time
}

// Pipeline 是单个角色的回复编排器。
type Pipeline struct {
	persona    persona.Persona
	scopeMode  chat.ScopeMode
	store      TurnStore
	completer  ai.Completer
	selector   ToneSelector
	codec      *mention.Codec
	directory  *mention.Directory
	prompts    *promptBuilder
	formatter  transcript.Formatter
	botID      string
	model      string
	escalation string
	timeout    time.Duration
	logger     *zap.Logger
	now        func() time.Time

	prunes sync.WaitGroup
}

// NewPipeline 校验角色配置并编译提示词模板。
func NewPipeline(ctx context.Context, opts Options) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, errors.New("relay: store is required")
	}
	if opts.Completer == nil {
		return nil, errors.New("relay: completer is required")
	}

	p := opts.Persona.WithDefaults()
	scopeMode, ok := chat.ParseScopeMode(p.Scope)
	if !ok {
		return nil, fmt.Errorf("persona %s: unknown scope mode %q", p.ID, p.Scope)
	}

	prompts, err := newPromptBuilder(ctx, p)
	if err != nil {
		return nil, err
	}

	codec := opts.Codec
	if codec == nil {
		codec = mention.MustNew()
	}
	directory := opts.Directory
	if directory == nil {
		directory = mention.NewDirectory(nil)
	}
	selector := opts.Selector
	if selector == nil {
		fixed, err := emotion.NewSelector(ctx, emotion.StrategyFixed, emotion.Options{DefaultTone: p.Tone})
		if err != nil {
			return nil, err
		}
		selector = fixed
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	model := p.Model
	if model == "" {
		model = opts.Model
	}
	escalation := p.EscalationModel
	if escalation == "" {
		escalation = opts.EscalationModel
	}

	pl := &Pipeline{
		persona:    p,
		scopeMode:  scopeMode,
		store:      opts.Store,
		completer:  opts.Completer,
		selector:   selector,
		codec:      codec,
		directory:  directory,
		prompts:    prompts,
		botID:      opts.BotID,
		model:      model,
		escalation: escalation,
		timeout:    opts.Timeout,
		logger:     logger.Named("relay").With(zap.String("persona", p.ID)),
		now:        now,
	}
	pl.formatter = transcript.Formatter{
		BotName:    "<" + p.Name + ">",
		FocusTurns: p.FocusTurns,
		Speaker:    pl.speakerTag,
	}
	return pl, nil
}

// Persona 返回补全默认值后的角色。
func (p *Pipeline) Persona() persona.Persona { return p.persona }

// Handle 处理一条入站事件。返回非 nil 错误表示在发送任何回复之前已中止。
func (p *Pipeline) Handle(ctx context.Context, ev chat.Inbound, reply ReplyFunc) (Outcome, error) {
	out := Outcome{State: StateIdle}
	if !ev.MentionsBot || ev.IsBroadcastMention || mention.IsBroadcast(ev.Text) {
		out.State = StateIgnored
		return out, nil
	}
	if reply == nil {
		reply = func(context.Context, string) error { return nil }
	}

	logger := p.logger.With(zap.String("event", ev.EventID), zap.String("sender", ev.SenderID))
	p.directory.Learn(ev.SenderID, ev.SenderName)
	if ev.SenderName == "" {
		ev.SenderName = p.lookupSender(ctx, ev.SenderID, logger)
	}

	now := ev.ReceivedAt
	if now.IsZero() {
		now = p.now()
	}
	question := p.codec.StripBotMention(ev.Text, p.botID)
	out.Scope = p.scopeMode.ScopeKey(ev)

	turns, err := p.store.RecentTurns(ctx, out.Scope, p.persona.ContextWindow)
	if err != nil {
		logger.Error("fetch context failed", zap.String("scope", out.Scope), zap.Error(err))
		return out, fmt.Errorf("fetch context: %w", err)
	}
	out.State = StateContextFetched
	p.schedulePrune(ctx, out.Scope)

	nameOf := p.directory.NameFunc(ctx, func(id string, err error) {
		logger.Debug("mention unresolved", zap.String("id", id), zap.Error(err))
	})
	history := p.formatter.Render(p.encodeTurns(turns, nameOf), p.persona.CapChars)

	out.Tone = p.selectTone(ctx, question, now)
	out.State = StateToneSelected

	vars := promptVars{
		Tone:       out.Tone.Descriptor,
		User:       p.userTag(ev, nameOf),
		Context:    history,
		Question:   p.codec.Encode(question, nameOf),
		Referenced: p.codec.Encode(ev.ReferencedText, nameOf),
		Now:        now,
	}
	messages, err := p.prompts.build(ctx, vars)
	if err != nil {
		// 模板在构造时已校验，此处失败按格式错误处理。
		logger.Error("build prompt failed", zap.Error(err))
		return p.fail(ctx, out, &ai.CompletionError{Kind: ai.KindMalformed, Err: err}, reply, logger), nil
	}
	out.State = StatePromptBuilt

	resp, err := p.complete(ctx, ai.Request{Model: p.model, Messages: messages})
	out.State = StateModelCalled
	if err != nil {
		return p.fail(ctx, out, ai.Classify(err), reply, logger), nil
	}
	out.Model = resp.Model
	answer := strings.TrimSpace(resp.Text)

	final := StateReplied
	if isFallback(answer, p.persona.FallbackPhrases) {
		if p.escalation == "" {
			logger.Info("fallback answer without escalation model", zap.String("answer", answer))
			answer = p.persona.Replies.Confused
		} else {
			logger.Info("fallback answer, escalating", zap.String("model", p.escalation))
			escalated, model, err := p.escalate(ctx, vars)
			if err != nil {
				return p.fail(ctx, out, ai.Classify(err), reply, logger), nil
			}
			answer, out.Model, final = escalated, model, StateEscalated
		}
	}

	answer = p.codec.Decode(answer, p.directory.ID)
	out.Reply = answer
	out.State = final

	if err := reply(ctx, answer); err != nil {
		logger.Warn("deliver reply failed", zap.Error(err))
	}

	turn := chat.Turn{
		Scope:      out.Scope,
		SenderID:   ev.SenderID,
		SenderName: ev.SenderName,
		UserText:   question,
		BotText:    answer,
		Timestamp:  now,
	}
	if _, err := p.store.Append(ctx, turn); err != nil {
		logger.Error("persist turn failed", zap.String("scope", out.Scope), zap.Error(err))
	}
	return out, nil
}

// Wait 阻塞直到所有已调度的裁剪完成。
func (p *Pipeline) Wait() {
	p.prunes.Wait()
}

// lookupSender 为平台未给出名称的发送者查询显示名，失败时返回空。
func (p *Pipeline) lookupSender(ctx context.Context, id string, logger *zap.Logger) string {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	name, err := p.directory.Name(ctx, id)
	if err != nil {
		logger.Debug("sender name unresolved", zap.Error(err))
		return ""
	}
	return name
}

// selectTone 用补全超时约束语气选择，分类策略同样会调用模型。
func (p *Pipeline) selectTone(ctx context.Context, text string, now time.Time) emotion.Tone {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.selector.Select(ctx, emotion.Request{Text: text, Now: now})
}

func (p *Pipeline) complete(ctx context.Context, req ai.Request) (ai.Response, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.completer.Complete(ctx, req)
}

// escalate 先询问升级模型，再让角色用自己的口吻改写答案。
func (p *Pipeline) escalate(ctx context.Context, vars promptVars) (string, string, error) {
	researched, err := p.complete(ctx, ai.Request{Model: p.escalation, Messages: escalationMessages(vars.Question)})
	if err != nil {
		return "", "", fmt.Errorf("escalation search: %w", err)
	}

	messages, err := p.prompts.buildRewrite(ctx, vars, strings.TrimSpace(researched.Text))
	if err != nil {
		return "", "", &ai.CompletionError{Kind: ai.KindMalformed, Err: err}
	}
	rewritten, err := p.complete(ctx, ai.Request{Model: p.model, Messages: messages})
	if err != nil {
		return "", "", fmt.Errorf("escalation rewrite: %w", err)
	}

	answer := strings.TrimSpace(rewritten.Text)
	if answer == "" {
		answer = strings.TrimSpace(researched.Text)
	}
	if answer == "" {
		answer = p.persona.Replies.Confused
	}
	return answer, rewritten.Model, nil
}

// fail 发送失败提示，失败回复不会持久化。
func (p *Pipeline) fail(ctx context.Context, out Outcome, ce *ai.CompletionError, reply ReplyFunc, logger *zap.Logger) Outcome {
	out.State = StateFailed
	out.Failure = ce.Kind
	out.Reply = failureReply(p.persona.Replies, ce)
	logger.Warn("completion failed",
		zap.String("kind", string(ce.Kind)),
		zap.Int("status", ce.Status),
		zap.Duration("retry_after", ce.RetryAfter),
		zap.Error(ce.Err),
	)
	if err := reply(ctx, out.Reply); err != nil {
		logger.Warn("deliver failure reply failed", zap.Error(err))
	}
	return out
}

func (p *Pipeline) schedulePrune(ctx context.Context, scope string) {
	keep := p.persona.RetainTurns
	p.prunes.Add(1)
	go func() {
		defer p.prunes.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pruneTimeout)
		defer cancel()

		removed, err := p.store.Prune(pctx, scope, keep)
		if err != nil {
			p.logger.Warn("prune failed", zap.String("scope", scope), zap.Error(err))
			return
		}
		if removed > 0 {
			p.logger.Debug("pruned turns", zap.String("scope", scope), zap.Int64("removed", removed))
		}
	}()
}

func (p *Pipeline) encodeTurns(turns []chat.Turn, nameOf func(string) (string, bool)) []chat.Turn {
	encoded := make([]chat.Turn, len(turns))
	for i, t := range turns {
		t.UserText = p.codec.Encode(t.UserText, nameOf)
		t.BotText = p.codec.Encode(t.BotText, nameOf)
		encoded[i] = t
	}
	return encoded
}

func (p *Pipeline) speakerTag(t chat.Turn) string {
	if t.SenderName != "" {
		return "<" + t.SenderName + ">"
	}
	return "<UnknownUser:" + t.SenderID + ">"
}

func (p *Pipeline) userTag(ev chat.Inbound, nameOf func(string) (string, bool)) string {
	if name, ok := nameOf(ev.SenderID); ok {
		return "<" + name + ">"
	}
	if ev.SenderName != "" {
		return "<" + ev.SenderName + ">"
	}
	return "<UnknownUser:" + ev.SenderID + ">"
}
