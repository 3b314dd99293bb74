package main

import (
	"fmt"
	"os"

	"github.com/chintondutta/drawsync/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "drawsync",
		Short: "Realtime collaborative whiteboard backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}
	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCmd(), newSeedCmd(), newTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// setupFlags 注册命令行参数，默认值与环境变量绑定来自 config。
func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("port", defaults.GetString("app.port"), "HTTP listen port")
	flags.String("env", defaults.GetString("app.env"), "Runtime environment (dev, prod)")
	flags.String("db-driver", defaults.GetString("database.driver"), "Database driver (postgres, sqlite)")
	flags.String("db-dsn", defaults.GetString("database.dsn"), "Database DSN")
	flags.String("redis-url", defaults.GetString("redis.url"), "Redis URL for the coordination store")
	flags.String("store", defaults.GetString("store.backend"), "Coordination store backend (redis, memory)")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "app.port", "port")
	bindFlag(cmd, "app.env", "env")
	bindFlag(cmd, "database.driver", "db-driver")
	bindFlag(cmd, "database.dsn", "db-dsn")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "store.backend", "store")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", cfgFile, err)
	}
	return nil
}
