package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zhouzirui/pipbot/internal/config"
)

// Open 根据 cfg.Driver 创建对应的存储。
func Open(ctx context.Context, cfg config.HistoryConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	case "sqlite", "":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		return NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}
