// Package slack 将 Slack Socket Mode 中的 app mention 接入编排流程。
package slack

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"

	"github.com/zhouzirui/pipbot/internal/analysis/mention"
	"github.com/zhouzirui/pipbot/internal/model/chat"
	"github.com/zhouzirui/pipbot/internal/service/relay"
)

// IDPattern 匹配 <@...> 中的 Slack 用户 id。
const IDPattern = `[A-Z0-9]+`

// NewClient 创建可同时开启 Socket Mode 会话的 Web API 客户端。
func NewClient(botToken, appToken string) *slack.Client {
	return slack.New(botToken, slack.OptionAppLevelToken(appToken))
}

// Resolver 通过 users.info 查询显示名。
type Resolver struct {
	api *slack.Client
}

var _ mention.Resolver = (*Resolver)(nil)

func NewResolver(api *slack.Client) *Resolver {
	return &Resolver{api: api}
}

func (r *Resolver) DisplayName(ctx context.Context, id string) (string, error) {
	user, err := r.api.GetUserInfoContext(ctx, id)
	if err != nil {
		return "", fmt.Errorf("users.info %s: %w", id, err)
	}
	return displayName(user), nil
}

func displayName(u *slack.User) string {
	if u == nil {
		return ""
	}
	for _, name := range []string{u.Profile.DisplayName, u.Profile.RealName, u.RealName, u.Name} {
		if name = strings.TrimSpace(name); name != "" {
			return name
		}
	}
	return ""
}

// Adapter 消费 Socket Mode 事件并将 mention 提交给编排流程。
// 发送者名称由 worker 上的 directory 解析，事件循环不会等待 users.info 或繁忙的协程池。
type Adapter struct {
	api        *slack.Client
	socket     *socketmode.Client
	pipeline   *relay.Pipeline
	dispatcher *relay.Dispatcher
	logger     *zap.Logger
	botID      string

	pending sync.WaitGroup
}

func New(api *slack.Client, pipeline *relay.Pipeline, dispatcher *relay.Dispatcher, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		api:        api,
		socket:     socketmode.New(api),
		pipeline:   pipeline,
		dispatcher: dispatcher,
		logger:     logger.Named("slack"),
	}
}

// BotID 通过 auth.test 获取机器人自身的用户 id。
func (a *Adapter) BotID(ctx context.Context) (string, error) {
	if a.botID != "" {
		return a.botID, nil
	}
	resp, err := a.api.AuthTestContext(ctx)
	if err != nil {
		return "", fmt.Errorf("auth.test: %w", err)
	}
	a.botID = resp.UserID
	return a.botID, nil
}

// Run 阻塞直到 ctx 结束或连接失败。
func (a *Adapter) Run(ctx context.Context) error {
	if _, err := a.BotID(ctx); err != nil {
		return err
	}
	defer a.pending.Wait()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.socket.RunContext(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("socket mode: %w", err)
			}
			return nil
		case evt, ok := <-a.socket.Events:
			if !ok {
				return nil
			}
			a.handle(ctx, evt)
		}
	}
}

func (a *Adapter) handle(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		a.logger.Info("connecting to slack")
	case socketmode.EventTypeConnected:
		a.logger.Info("connected to slack")
	case socketmode.EventTypeConnectionError:
		a.logger.Warn("slack connection error")
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		if apiEvent.Type != slackevents.CallbackEvent {
			return
		}
		mentionEv, ok := apiEvent.InnerEvent.Data.(*slackevents.AppMentionEvent)
		if !ok {
			return
		}
		a.pending.Add(1)
		go func() {
			defer a.pending.Done()
			a.submit(ctx, mentionEv)
		}()
	}
}

func (a *Adapter) submit(ctx context.Context, ev *slackevents.AppMentionEvent) {
	inbound := ToInbound(ev, a.botID, time.Now())

	thread := ev.ThreadTimeStamp
	if thread == "" {
		thread = ev.TimeStamp
	}
	reply := func(ctx context.Context, text string) error {
		_, _, err := a.api.PostMessageContext(ctx, ev.Channel,
			slack.MsgOptionText(text, false),
			slack.MsgOptionTS(thread),
		)
		return err
	}

	if err := a.dispatcher.Submit(ctx, a.pipeline, inbound, reply, nil); err != nil {
		a.logger.Info("event not dispatched", zap.String("event", inbound.EventID), zap.Error(err))
	}
}

// ToInbound 将 app mention 转换为入站事件。
func ToInbound(ev *slackevents.AppMentionEvent, botID string, now time.Time) chat.Inbound {
	received := now
	if secs, err := strconv.ParseFloat(ev.TimeStamp, 64); err == nil && secs > 0 {
		received = time.Unix(0, int64(secs*float64(time.Second))).UTC()
	}
	return chat.Inbound{
		EventID:             ev.Channel + ":" + ev.TimeStamp,
		Platform:            "slack",
		ChannelID:           ev.Channel,
		SenderID:            ev.User,
		Text:                ev.Text,
		MentionsBot:         botID == "" || strings.Contains(ev.Text, "<@"+botID+">"),
		IsBroadcastMention:  mention.IsBroadcast(ev.Text),
		ReferencedMessageID: ev.ThreadTimeStamp,
		ReceivedAt:          received,
	}
}
