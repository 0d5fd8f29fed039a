package emotion

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	analysis "github.com/zhouzirui/pipbot/internal/analysis/emotion"
	"github.com/zhouzirui/pipbot/internal/model/mood"
	"github.com/zhouzirui/pipbot/internal/service/ai"
)

// Strategy 表示语气选择策略。
type Strategy string

const (
	StrategyClassifier Strategy = "classifier"
	StrategyScore      Strategy = "score"
	StrategyTimeOfDay  Strategy = "timeofday"
	StrategyDaily      Strategy = "daily"
	StrategyKeyword    Strategy = "keyword"
	StrategyFixed      Strategy = "fixed"
)

// ParseStrategy 解析策略名，不区分大小写。
func ParseStrategy(raw string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StrategyClassifier, StrategyScore, StrategyTimeOfDay, StrategyDaily, StrategyKeyword, StrategyFixed:
		return s, nil
	case "":
		return StrategyFixed, nil
	default:
		return "", fmt.Errorf("unknown tone strategy %q", raw)
	}
}

// Request 是一次语气选择的输入。
type Request struct {
	Text string
	Now  time.Time
}

// Tone 是注入系统提示词的语气描述。
type Tone struct {
	Strategy   Strategy    `json:"strategy"`
	Label      string      `json:"label,omitempty"`
	Descriptor string      `json:"descriptor"`
	Mood       *mood.State `json:"mood,omitempty"`
}

// Options 配置 Selector。
type Options struct {
	// DefaultTone 用于固定策略以及任何选择失败的情况。
	DefaultTone string
	Completer   ai.Completer
	Model       string
	Keeper      *MoodKeeper
	Logger      *zap.Logger
	Rand        *rand.Rand
	// Timeout 限制每次分类调用的时长，为零时仅受调用方 context 约束。
	Timeout time.Duration
}

// Selector 为每条消息选择语气，从不返回错误：失败时记录日志并返回默认语气。
type Selector struct {
	strategy    Strategy
	defaultTone string
	classifier  compose.Runnable[map[string]any, *schema.Message]
	timeout     time.Duration
	keeper      *MoodKeeper
	logger      *zap.Logger

	randMu sync.Mutex
	rand   *rand.Rand
}

// NewSelector 校验策略所需的依赖，并在提供 completer 时编译分类链。
func NewSelector(ctx context.Context, strategy Strategy, opts Options) (*Selector, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := opts.Rand
	if r == nil {
		r = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}

	s := &Selector{
		strategy:    strategy,
		defaultTone: strings.TrimSpace(opts.DefaultTone),
		timeout:     opts.Timeout,
		keeper:      opts.Keeper,
		logger:      logger.Named("emotion"),
		rand:        r,
	}

	switch strategy {
	case StrategyClassifier:
		if opts.Completer == nil {
			return nil, fmt.Errorf("tone strategy %s requires a completer", strategy)
		}
	case StrategyScore, StrategyDaily:
		if opts.Keeper == nil {
			return nil, fmt.Errorf("tone strategy %s requires a mood keeper", strategy)
		}
	}

	if opts.Completer != nil && (strategy == StrategyClassifier || strategy == StrategyScore) {
		runnable, err := compileClassifier(ctx, opts.Completer, opts.Model)
		if err != nil {
			return nil, err
		}
		s.classifier = runnable
	}
	return s, nil
}

func compileClassifier(ctx context.Context, completer ai.Completer, modelName string) (compose.Runnable[map[string]any, *schema.Message], error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(classifierSystemPrompt),
		schema.UserMessage("{message}"),
	)

	complete := compose.InvokableLambda(func(ctx context.Context, msgs []*schema.Message) (*schema.Message, error) {
		resp, err := completer.Complete(ctx, ai.Request{Model: modelName, Messages: msgs})
		if err != nil {
			return nil, err
		}
		return schema.AssistantMessage(resp.Text, nil), nil
	})

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendLambda(complete)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile tone classifier chain: %w", err)
	}
	return runnable, nil
}

// Strategy 返回当前策略。
func (s *Selector) Strategy() Strategy { return s.strategy }

// Default 返回失败时使用的语气。
func (s *Selector) Default() Tone {
	return Tone{Strategy: StrategyFixed, Label: string(analysis.Neutral), Descriptor: s.defaultTone}
}

// Select 执行配置的策略。
func (s *Selector) Select(ctx context.Context, req Request) Tone {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	switch s.strategy {
	case StrategyClassifier:
		label, err := s.classify(ctx, req.Text)
		if err != nil {
			s.logger.Warn("classifier failed, using default tone", zap.Error(err))
			return s.Default()
		}
		return Tone{Strategy: s.strategy, Label: string(label), Descriptor: analysis.Flavor(label)}

	case StrategyScore:
		label, err := s.labelForScore(ctx, req.Text)
		if err != nil {
			s.logger.Warn("classifier failed, mood unchanged", zap.Error(err))
			return s.Default()
		}
		state, err := s.keeper.Nudge(ctx, analysis.Delta(label), now)
		if err != nil {
			s.logger.Warn("mood update failed, using default tone", zap.Error(err))
			return s.Default()
		}
		return Tone{
			Strategy:   s.strategy,
			Label:      string(label),
			Descriptor: analysis.ScoreDescriptor(state.Score),
			Mood:       &state,
		}

	case StrategyTimeOfDay:
		bucket, descriptor := analysis.TimeOfDay(now)
		return Tone{Strategy: s.strategy, Label: string(bucket), Descriptor: descriptor}

	case StrategyDaily:
		state, err := s.keeper.Daily(ctx, now, s.rollDaily)
		if err != nil {
			s.logger.Warn("daily mood unavailable, using default tone", zap.Error(err))
			return s.Default()
		}
		return Tone{Strategy: s.strategy, Label: state.Day, Descriptor: state.Label, Mood: &state}

	case StrategyKeyword:
		label := analysis.Analyze(req.Text).Label
		return Tone{Strategy: s.strategy, Label: string(label), Descriptor: analysis.Flavor(label)}

	default:
		return s.Default()
	}
}

// classify 返回模型给出的标签，集合外的标签按 neutral 处理。
func (s *Selector) classify(ctx context.Context, text string) (analysis.Label, error) {
	if s.classifier == nil {
		return "", fmt.Errorf("classifier not configured")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	msg, err := s.classifier.Invoke(ctx, map[string]any{"message": strings.TrimSpace(text)})
	if err != nil {
		return "", err
	}
	if msg == nil {
		return analysis.Neutral, nil
	}
	label, ok := analysis.ParseLabel(msg.Content)
	if !ok {
		s.logger.Debug("unmapped classifier label", zap.String("raw", msg.Content))
		return analysis.Neutral, nil
	}
	return label, nil
}

// labelForScore 仅在未配置分类器时使用关键词分析；分类失败时不改动分值。
func (s *Selector) labelForScore(ctx context.Context, text string) (analysis.Label, error) {
	if s.classifier == nil {
		return analysis.Analyze(text).Label, nil
	}
	return s.classify(ctx, text)
}

func (s *Selector) rollDaily() string {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return analysis.RandomDailyMood(s.rand)
}

const classifierSystemPrompt = `Classify the sentiment of the user's message.
Answer with exactly one word from this list: positive, neutral, negative, sarcastic, angry.
Do not add punctuation or explanation.`
