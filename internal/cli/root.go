// Package cli 实现 contextctl 命令，用于查看与修复会话上下文存储。
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/pipbot/internal/config"
	"github.com/zhouzirui/pipbot/internal/service/history"
)

type options struct {
	driver     string
	sqlitePath string
	redisAddr  string
}

// NewRootCmd 构建 contextctl 命令树。
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "contextctl",
		Short:         "Inspect and maintain the relay's conversation context",
		Long:          "contextctl reads the same HISTORY_* settings as the server and works on the store directly.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.driver, "driver", "", "Store driver: sqlite, redis or memory (default: $HISTORY_DRIVER)")
	root.PersistentFlags().StringVarP(&opts.sqlitePath, "db", "d", "", "SQLite path (default: $SQLITE_PATH)")
	root.PersistentFlags().StringVar(&opts.redisAddr, "redis", "", "Redis address (default: $REDIS_ADDR)")

	root.AddCommand(
		newScopesCmd(opts),
		newShowCmd(opts),
		newPruneCmd(opts),
		newAppendCmd(opts),
		newMoodCmd(opts),
	)
	return root
}

func (o *options) historyConfig() (config.HistoryConfig, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return config.HistoryConfig{}, err
	}
	hc := cfg.History
	if o.driver != "" {
		hc.Driver = o.driver
	}
	if o.sqlitePath != "" {
		hc.SQLitePath = o.sqlitePath
	}
	if o.redisAddr != "" {
		hc.RedisAddr = o.redisAddr
	}
	return hc, nil
}

func (o *options) openStore(cmd *cobra.Command) (history.Store, error) {
	hc, err := o.historyConfig()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	store, err := history.Open(cmd.Context(), hc)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
