package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
)

// ChatModelCompleter 将 eino ChatModel（默认是方舟）适配为 Completer。
type ChatModelCompleter struct {
	chatModel model.ChatModel
}

func NewChatModelCompleter(chatModel model.ChatModel) (*ChatModelCompleter, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model completer: nil chat model")
	}
	return &ChatModelCompleter{chatModel: chatModel}, nil
}

func (c *ChatModelCompleter) Complete(ctx context.Context, req Request) (Response, error) {
	var opts []model.Option
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}

	msg, err := c.chatModel.Generate(ctx, req.Messages, opts...)
	if err != nil {
		return Response{}, Classify(fmt.Errorf("generate: %w", err))
	}
	if msg == nil {
		return Response{}, Classify(ErrEmptyResponse)
	}
	return Response{Text: msg.Content, Model: req.Model}, nil
}
