package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/zhouzirui/pipbot/internal/analysis/mention"
	"github.com/zhouzirui/pipbot/internal/config"
	"github.com/zhouzirui/pipbot/internal/handler"
	"github.com/zhouzirui/pipbot/internal/logging"
	"github.com/zhouzirui/pipbot/internal/model/persona"
	slackplatform "github.com/zhouzirui/pipbot/internal/platform/slack"
	"github.com/zhouzirui/pipbot/internal/service/ai"
	"github.com/zhouzirui/pipbot/internal/service/emotion"
	"github.com/zhouzirui/pipbot/internal/service/history"
	"github.com/zhouzirui/pipbot/internal/service/relay"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 加载 .env 文件
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		JSON:       cfg.Log.JSON,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Info("no .env file loaded, using system environment variables only", zap.Error(envErr))
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("pipbot stopped with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	personas, err := loadPersonas(cfg.Relay)
	if err != nil {
		return err
	}
	personaStore := persona.NewMemoryStore(personas)

	store, err := history.Open(ctx, cfg.History)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("history store ready", zap.String("driver", cfg.History.Driver))

	// Slack 的 id 为字母数字，其余平台使用数字 id。
	var (
		codec    = mention.MustNew()
		resolver mention.Resolver
		slackAPI *slack.Client
	)
	if cfg.Slack.Enabled() {
		slackAPI = slackplatform.NewClient(cfg.Slack.BotToken, cfg.Slack.AppToken)
		codec = mention.MustNew(mention.WithIDPattern(slackplatform.IDPattern))
		resolver = slackplatform.NewResolver(slackAPI)
		if cfg.Relay.BotID == "" {
			auth, err := slackAPI.AuthTestContext(ctx)
			if err != nil {
				return fmt.Errorf("slack auth.test: %w", err)
			}
			cfg.Relay.BotID = auth.UserID
		}
	}
	directory := mention.NewDirectory(resolver)

	registry := relay.NewRegistry(cfg.Relay.PersonaID)
	var completer ai.Completer
	if cfg.AI.Enabled() {
		completer, err = ai.New(ctx, cfg.AI)
		if err != nil {
			logger.Warn("failed to initialize completion provider, relay disabled", zap.Error(err))
		} else {
			logger.Info("completion provider ready",
				zap.String("provider", string(cfg.AI.Provider)), zap.String("model", cfg.AI.Model))
		}
	} else {
		logger.Warn("completion provider not configured, relay disabled", zap.String("provider", string(cfg.AI.Provider)))
	}

	retain := 0
	if completer != nil {
		keeper := emotion.NewMoodKeeper(store)
		for _, p := range personaStore.List() {
			p = applyOverrides(p, cfg.Relay)
			pipeline, err := buildPipeline(ctx, p, cfg, store, completer, keeper, codec, directory, logger)
			if err != nil {
				return err
			}
			if err := registry.Register(pipeline); err != nil {
				return err
			}
			if keep := pipeline.Persona().RetainTurns; keep > retain {
				retain = keep
			}
		}
		if _, ok := registry.Get(cfg.Relay.PersonaID); !ok {
			return fmt.Errorf("BOT_PERSONA %q is not defined", cfg.Relay.PersonaID)
		}
	}

	dispatcher, err := relay.NewDispatcher(relay.DispatcherOptions{
		Workers:       cfg.Relay.Workers,
		MaxQueued:     cfg.Relay.MaxQueued,
		RatePerMinute: cfg.Relay.RatePerMinute,
		Burst:         cfg.Relay.RateBurst,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := dispatcher.Close(10 * time.Second); err != nil {
			logger.Warn("dispatcher drain timed out", zap.Error(err))
		}
		registry.Wait()
	}()

	if retain > 0 {
		maintainer := history.NewMaintainer(store, retain, logger)
		if err := maintainer.Start(cfg.History.MaintenanceCron); err != nil {
			return err
		}
		defer maintainer.Stop()
	}

	if slackAPI != nil && completer != nil {
		pipeline, _ := registry.Get(cfg.Relay.PersonaID)
		adapter := slackplatform.New(slackAPI, pipeline, dispatcher, logger)
		go func() {
			if err := adapter.Run(ctx); err != nil {
				logger.Error("slack adapter stopped", zap.Error(err))
			}
		}()
	}

	router := handler.NewRouter(handler.Deps{
		Personas:   personaStore,
		Pipelines:  registry,
		Dispatcher: dispatcher,
		Store:      store,
		Logger:     logger,
	})

	return startServer(ctx, cfg.Server, router, logger)
}

func buildPipeline(
	ctx context.Context,
	p persona.Persona,
	cfg *config.Config,
	store history.Store,
	completer ai.Completer,
	keeper *emotion.MoodKeeper,
	codec *mention.Codec,
	directory *mention.Directory,
	logger *zap.Logger,
) (*relay.Pipeline, error) {
	strategy, err := emotion.ParseStrategy(p.ToneStrategy)
	if err != nil {
		return nil, err
	}
	selector, err := emotion.NewSelector(ctx, strategy, emotion.Options{
		DefaultTone: p.Tone,
		Completer:   completer,
		Model:       cfg.AI.ClassifierModel,
		Keeper:      keeper,
		Logger:      logger,
		Timeout:     cfg.AI.Timeout,
	})
	if err != nil {
		return nil, err
	}

	return relay.NewPipeline(ctx, relay.Options{
		Persona:         p,
		Store:           store,
		Completer:       completer,
		Selector:        selector,
		Codec:           codec,
		Directory:       directory,
		BotID:           cfg.Relay.BotID,
		Model:           cfg.AI.Model,
		EscalationModel: cfg.AI.EscalationModel,
		Timeout:         cfg.AI.Timeout,
		Logger:          logger,
	})
}

func loadPersonas(rc config.RelayConfig) ([]persona.Persona, error) {
	if rc.PersonaFile == "" {
		return persona.Seed(), nil
	}
	return persona.LoadFile(rc.PersonaFile)
}

// applyOverrides 让环境变量配置覆盖角色默认值。
func applyOverrides(p persona.Persona, rc config.RelayConfig) persona.Persona {
	if rc.ToneStrategy != "" {
		p.ToneStrategy = rc.ToneStrategy
	}
	if rc.ContextWindow > 0 {
		p.ContextWindow = rc.ContextWindow
	}
	if rc.CapChars > 0 {
		p.CapChars = rc.CapChars
	}
	if rc.RetainTurns > 0 {
		p.RetainTurns = rc.RetainTurns
	}
	return p
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("pipbot listening", zap.String("addr", addr))
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
