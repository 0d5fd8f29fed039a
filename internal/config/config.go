package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	History HistoryConfig
	Relay   RelayConfig
	Log     LogConfig
	Slack   SlackConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	history, err := loadHistoryConfig()
	if err != nil {
		return nil, err
	}

	relay, err := loadRelayConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		AI:      ai,
		History: history,
		Relay:   relay,
		Log:     logCfg,
		Slack:   loadSlackConfig(),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// Provider 标识补全服务的实现。
type Provider string

const (
	ProviderArk    Provider = "ark"
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider Provider

	// Ark
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string

	// OpenAI 兼容接口（如 Groq）
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIOrg     string

	// Ollama 本地推理
	OllamaHost string

	Temperature     *float64
	TopP            *float64
	MaxTokens       *int
	Timeout         time.Duration
	ClassifierModel string
	EscalationModel string
}

// Enabled 表示所选提供方是否具备必需的凭证与模型。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderOpenAI:
		return c.Model != "" && c.OpenAIKey != ""
	case ProviderOllama:
		return c.Model != "" && c.OllamaHost != ""
	default:
		return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
	}
}

// NewChatModel 使用配置创建一个 Ark 模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if c.Model == "" || (c.APIKey == "" && (c.AccessKey == "" || c.SecretKey == "")) {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	provider := Provider(strings.ToLower(getEnvOrDefault("LLM_PROVIDER", string(ProviderArk))))
	switch provider {
	case ProviderArk, ProviderOpenAI, ProviderOllama:
	default:
		return AIConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("LLM_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("LLM_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("LLM_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseDurationEnv("COMPLETION_TIMEOUT", 60*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	model := strings.TrimSpace(os.Getenv("MODEL"))

	return AIConfig{
		Provider:        provider,
		APIKey:          strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:       strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:       strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:           model,
		BaseURL:         getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:          getEnvOrDefault("ARK_REGION", "cn-beijing"),
		OpenAIKey:       strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:   getEnvOrDefault("OPENAI_BASE_URL", "https://api.groq.com/openai/v1"),
		OpenAIOrg:       strings.TrimSpace(os.Getenv("OPENAI_ORG_ID")),
		OllamaHost:      getEnvOrDefault("OLLAMA_HOST", "http://127.0.0.1:11434"),
		Temperature:     temperature,
		TopP:            topP,
		MaxTokens:       maxTokens,
		Timeout:         timeout,
		ClassifierModel: getEnvOrDefault("CLASSIFIER_MODEL", model),
		EscalationModel: strings.TrimSpace(os.Getenv("ESCALATION_MODEL")),
	}, nil
}

// HistoryConfig 描述上下文存储配置。
type HistoryConfig struct {
	Driver          string
	SQLitePath      string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisPrefix     string
	MaintenanceCron string
}

func loadHistoryConfig() (HistoryConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("HISTORY_DRIVER", "sqlite"))
	switch driver {
	case "memory", "sqlite", "redis":
	default:
		return HistoryConfig{}, fmt.Errorf("invalid HISTORY_DRIVER value %q", driver)
	}

	redisDB := 0
	if override, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return HistoryConfig{}, err
	} else if override != nil {
		redisDB = *override
	}

	return HistoryConfig{
		Driver:          driver,
		SQLitePath:      getEnvOrDefault("SQLITE_PATH", "./context/contextDB.sqlite"),
		RedisAddr:       getEnvOrDefault("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:   strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
		RedisDB:         redisDB,
		RedisPrefix:     getEnvOrDefault("REDIS_PREFIX", "pipbot"),
		MaintenanceCron: getEnvOrDefault("HISTORY_MAINTENANCE_CRON", "@hourly"),
	}, nil
}

// RelayConfig 描述消息编排相关配置。零值字段沿用 persona 自身的设定。
type RelayConfig struct {
	PersonaID     string
	PersonaFile   string
	BotID         string
	ToneStrategy  string
	ContextWindow int
	CapChars      int
	RetainTurns   int
	Workers       int
	MaxQueued     int
	RatePerMinute int
	RateBurst     int
}

func loadRelayConfig() (RelayConfig, error) {
	cfg := RelayConfig{
		PersonaID:    getEnvOrDefault("BOT_PERSONA", "pip"),
		PersonaFile:  strings.TrimSpace(os.Getenv("PERSONA_FILE")),
		BotID:        strings.TrimSpace(os.Getenv("BOT_ID")),
		ToneStrategy: strings.ToLower(strings.TrimSpace(os.Getenv("TONE_STRATEGY"))),
		Workers:      32,
		MaxQueued:    256,
		RateBurst:    3,
	}

	ints := []struct {
		key  string
		dest *int
	}{
		{"CONTEXT_WINDOW", &cfg.ContextWindow},
		{"CONTEXT_MAX_CHARS", &cfg.CapChars},
		{"CONTEXT_RETAIN", &cfg.RetainTurns},
		{"RELAY_WORKERS", &cfg.Workers},
		{"RELAY_MAX_QUEUED", &cfg.MaxQueued},
		{"RATE_LIMIT_PER_MINUTE", &cfg.RatePerMinute},
		{"RATE_LIMIT_BURST", &cfg.RateBurst},
	}
	for _, item := range ints {
		val, err := parseOptionalIntEnv(item.key)
		if err != nil {
			return RelayConfig{}, err
		}
		if val == nil {
			continue
		}
		if *val < 0 {
			return RelayConfig{}, fmt.Errorf("invalid %s value %d: must not be negative", item.key, *val)
		}
		*item.dest = *val
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	return cfg, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level      string
	JSON       bool
	File       string
	MaxSizeMB  int
	MaxBackups int
}

func loadLogConfig() (LogConfig, error) {
	jsonFormat, err := parseBoolEnv("LOG_JSON", false)
	if err != nil {
		return LogConfig{}, err
	}
	cfg := LogConfig{
		Level: getEnvOrDefault("LOG_LEVEL", "info"),
		JSON:  jsonFormat,
		File:  strings.TrimSpace(os.Getenv("LOG_FILE")),
	}
	if size, err := parseOptionalIntEnv("LOG_MAX_SIZE_MB"); err != nil {
		return LogConfig{}, err
	} else if size != nil {
		cfg.MaxSizeMB = *size
	}
	if backups, err := parseOptionalIntEnv("LOG_MAX_BACKUPS"); err != nil {
		return LogConfig{}, err
	} else if backups != nil {
		cfg.MaxBackups = *backups
	}
	return cfg, nil
}

// SlackConfig 描述 Slack Socket Mode 适配器。
type SlackConfig struct {
	BotToken string
	AppToken string
}

// Enabled 表示是否提供了 Slack 凭证。
func (c SlackConfig) Enabled() bool {
	return c.BotToken != "" && c.AppToken != ""
}

func loadSlackConfig() SlackConfig {
	return SlackConfig{
		BotToken: strings.TrimSpace(os.Getenv("SLACK_BOT_TOKEN")),
		AppToken: strings.TrimSpace(os.Getenv("SLACK_APP_TOKEN")),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	// 纯数字按秒处理。
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
