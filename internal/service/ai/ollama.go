package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/ollama/ollama/api"
)

// OllamaCompleter 调用本地 Ollama 服务完成补全。
type OllamaCompleter struct {
	client  *api.Client
	model   string
	options map[string]any
}

// NewOllamaCompleter 连接到 host，例如 http://127.0.0.1:11434。
func NewOllamaCompleter(host, model string, sampling Sampling, httpClient *http.Client) (*OllamaCompleter, error) {
	base, err := url.Parse(strings.TrimSpace(host))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("ollama completer: invalid host %q", host)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OllamaCompleter{
		client:  api.NewClient(base, httpClient),
		model:   model,
		options: ollamaOptions(sampling),
	}, nil
}

// ollamaOptions 将采样参数映射为 Ollama 的选项名。
func ollamaOptions(s Sampling) map[string]any {
	opts := make(map[string]any)
	if s.Temperature != nil {
		opts["temperature"] = *s.Temperature
	}
	if s.TopP != nil {
		opts["top_p"] = *s.TopP
	}
	if s.MaxTokens != nil {
		opts["num_predict"] = *s.MaxTokens
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

func (c *OllamaCompleter) Complete(ctx context.Context, req Request) (Response, error) {
	stream := false
	model := pickModel(req, c.model)
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: toOllamaMessages(req.Messages),
		Stream:   &stream,
		Options:  c.options,
	}

	var out Response
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		out.Text += resp.Message.Content
		if resp.Model != "" {
			out.Model = resp.Model
		}
		return nil
	})
	if err != nil {
		return Response{}, Classify(err)
	}
	if out.Model == "" {
		out.Model = model
	}
	return out, nil
}

func toOllamaMessages(msgs []*schema.Message) []api.Message {
	out := make([]api.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		out = append(out, api.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}
