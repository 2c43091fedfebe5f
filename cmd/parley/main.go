package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/parley/internal/profile"
	"github.com/hrygo/parley/server"
	"github.com/hrygo/parley/store"
	"github.com/hrygo/parley/store/db"
)

const greetingBanner = `parley - streaming chat service`

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "A streaming conversational AI service",
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:               viper.GetString("mode"),
			Addr:               viper.GetString("addr"),
			Port:               viper.GetInt("port"),
			Data:               viper.GetString("data"),
			Driver:             viper.GetString("driver"),
			DSN:                viper.GetString("dsn"),
			ChatModel:          viper.GetString("chat-model"),
			SystemPrompt:       viper.GetString("system-prompt"),
			ModerationEnabled:  viper.GetBool("moderation-enabled"),
			OpenAIAPIKey:       viper.GetString("openai-api-key"),
			OpenAIBaseURL:      viper.GetString("openai-base-url"),
			DeepSeekAPIKey:     viper.GetString("deepseek-api-key"),
			DeepSeekBaseURL:    viper.GetString("deepseek-base-url"),
			AnthropicAPIKey:    viper.GetString("anthropic-api-key"),
			AnthropicBaseURL:   viper.GetString("anthropic-base-url"),
			ContextWindow:      viper.GetInt("context-window"),
			RequestTimeoutSecs: viper.GetInt("request-timeout-seconds"),
		}
		if err := instanceProfile.Validate(); err != nil {
			slog.Error("invalid configuration", "error", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			slog.Error("failed to create db driver", "error", err)
			os.Exit(1)
		}

		storeInstance := store.New(dbDriver, instanceProfile)
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}

		s, err := server.NewServer(ctx, instanceProfile, storeInstance)
		if err != nil {
			slog.Error("failed to create server", "error", err)
			os.Exit(1)
		}

		if err := s.Start(ctx); err != nil {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}

		fmt.Printf("%s\nversion %s, listening on %s:%d\n",
			greetingBanner, instanceProfile.Version, instanceProfile.Addr, instanceProfile.Port)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig.String())
		case <-ctx.Done():
		}

		s.Shutdown(ctx)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("failed to run command", "error", err)
		os.Exit(1)
	}
}

func init() {
	viper.SetDefault("mode", "demo")
	viper.SetDefault("addr", "")
	viper.SetDefault("port", 8081)
	viper.SetDefault("data", ".")
	viper.SetDefault("driver", "sqlite")

	rootCmd.PersistentFlags().String("mode", "demo", `mode of the server: "prod", "dev", or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "binding address for the server")
	rootCmd.PersistentFlags().Int("port", 8081, "binding port for the server")
	rootCmd.PersistentFlags().String("data", ".", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", `database driver: "sqlite" or "postgres"`)
	rootCmd.PersistentFlags().String("dsn", "", "database connection string")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("parley")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}
