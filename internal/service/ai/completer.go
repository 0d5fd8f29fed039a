package ai

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Request 表示一次对话补全调用。
type Request struct {
	Model    string
	Messages []*schema.Message
}

// Response 携带补全结果的第一个候选。
type Response struct {
	Text  string
	Model string
}

// Completer 是编排流程与分类语气策略共用的模型调用接口。
// 实现不做重试，失败统一以 *CompletionError 返回。
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// CompleterFunc 将普通函数适配为 Completer。
type CompleterFunc func(ctx context.Context, req Request) (Response, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

func pickModel(req Request, fallback string) string {
	if m := strings.TrimSpace(req.Model); m != "" {
		return m
	}
	return fallback
}

// Sampling 可选的生成参数，nil 字段沿用服务端默认值。
type Sampling struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}
