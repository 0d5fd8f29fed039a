package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIOptions 配置 OpenAI 兼容的接口，例如 Groq。
type OpenAIOptions struct {
	APIKey       string
	BaseURL      string
	Organization string
	Model        string
	Sampling     Sampling
	HTTPClient   *http.Client
}

// OpenAICompleter 调用任意 OpenAI 兼容的对话补全接口。
type OpenAICompleter struct {
	client   *openai.Client
	model    string
	sampling Sampling
}

// NewOpenAICompleter 创建补全器，请求未指定模型时使用默认模型。
func NewOpenAICompleter(opts OpenAIOptions) (*OpenAICompleter, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("openai completer: api key is required")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	cfg.OrgID = opts.Organization

	base := opts.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	cfg.HTTPClient = &retryAfterDoer{next: base}

	return &OpenAICompleter{
		client:   openai.NewClientWithConfig(cfg),
		model:    opts.Model,
		sampling: opts.Sampling,
	}, nil
}

func (c *OpenAICompleter) Complete(ctx context.Context, req Request) (Response, error) {
	hint := &retryHint{}
	ctx = context.WithValue(ctx, retryHintKey{}, hint)

	model := pickModel(req, c.model)
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(req.Messages),
	}
	if t := c.sampling.Temperature; t != nil {
		chatReq.Temperature = float32(*t)
	}
	if p := c.sampling.TopP; p != nil {
		chatReq.TopP = float32(*p)
	}
	if n := c.sampling.MaxTokens; n != nil {
		chatReq.MaxTokens = *n
	}
	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return Response{}, withRetryAfter(Classify(err), hint.get())
	}
	if len(resp.Choices) == 0 {
		return Response{}, Classify(ErrEmptyResponse)
	}
	if resp.Model != "" {
		model = resp.Model
	}
	return Response{Text: resp.Choices[0].Message.Content, Model: model}, nil
}

func toOpenAIMessages(msgs []*schema.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case schema.System:
			role = openai.ChatMessageRoleSystem
		case schema.Assistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

type retryHintKey struct{}

// retryHint 接收失败响应的 Retry-After 头，go-openai 的错误中不包含响应头。
type retryHint struct {
	mu    sync.Mutex
	after time.Duration
}

func (h *retryHint) set(d time.Duration) {
	h.mu.Lock()
	h.after = d
	h.mu.Unlock()
}

func (h *retryHint) get() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.after
}

type retryAfterDoer struct {
	next *http.Client
}

func (d *retryAfterDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.next.Do(req)
	if err != nil || resp == nil {
		return resp, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if hint, ok := req.Context().Value(retryHintKey{}).(*retryHint); ok {
			hint.set(ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
		}
	}
	return resp, nil
}
