package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quailyquaily/taskporter/cmd/taskporter/botcmd"
	"github.com/quailyquaily/taskporter/cmd/taskporter/checkcmd"
	"github.com/quailyquaily/taskporter/cmd/taskporter/dircmd"
	"github.com/quailyquaily/taskporter/cmd/taskporter/queuecmd"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "taskporter",
		Short:         "Slack bot that turns chat messages into tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return initConfig(configPath)
		},
	}

	root.PersistentFlags().String("config", "", "Config file (default: ./taskporter.yaml or ~/.taskporter/config.yaml).")
	root.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error.")
	root.PersistentFlags().String("log-format", "", "Log format: text|json.")
	_ = viper.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(botcmd.NewCommand())
	root.AddCommand(queuecmd.NewCommand())
	root.AddCommand(dircmd.NewCommand())
	root.AddCommand(checkcmd.NewCommand())
	return root
}

// initConfig loads .env, then the config file, then TASKPORTER_* env vars.
// Precedence is flags > env > config file.
func initConfig(configPath string) error {
	_ = godotenv.Load()

	viper.SetEnvPrefix("TASKPORTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if strings.TrimSpace(configPath) != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configPath, err)
		}
		return nil
	}

	viper.SetConfigName("taskporter")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".taskporter"))
	}
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}
