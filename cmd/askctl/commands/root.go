package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"askhub/internal/config"
	"askhub/internal/pkg/logger"
	"askhub/internal/store"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// 全局参数
	configPath string
	verbose    bool
)

// rootCmd 运维命令入口
var rootCmd = &cobra.Command{
	Use:   "askhub-ctl",
	Short: "askhub 运维工具",
	Long: `askhub 运维工具：初始化数据库、生成假数据、修复关注关系、删除用户。

所有命令读取与 Web 服务相同的配置（configs/config.json + 环境变量）。`,
	SilenceUsage: true,
}

// Execute 执行命令，失败时以非零状态退出。
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "配置文件路径（默认 configs/config.json）")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "输出 SQL 日志")
}

// openStore 加载配置并连接数据库。
func openStore(ctx context.Context) (*store.Store, *config.Config, *slog.Logger, error) {
	_ = godotenv.Load()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.App.LogLevel
	if verbose {
		level = "debug"
	}
	appLogger := logger.NewDefault(level)

	db, err := store.Open(cfg.Database, logger.NewGormLogger(appLogger, cfg.App.SlowQueryThreshold))
	if err != nil {
		return nil, nil, nil, err
	}
	st := store.New(db, cfg.Email.AdminEmail)
	if err := st.PingDB(ctx); err != nil {
		_ = st.Close()
		return nil, nil, nil, fmt.Errorf("ping database: %w", err)
	}
	return st, cfg, appLogger, nil
}
