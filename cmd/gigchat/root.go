package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gigchat/gigchat/internal/config"
	"github.com/gigchat/gigchat/internal/log"
)

type rootOptions struct {
	configPath string
	serverURL  string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "gigchat",
		Short:         "Terminal client for the gigchat messaging server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.serverURL, "server", "", "server base URL (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newRegisterCmd(opts),
		newLoginCmd(opts),
		newContactsCmd(opts),
		newConversationsCmd(opts),
		newChatCmd(opts),
	)

	return cmd
}

// loadConfig resolves configuration and a logger for a subcommand run.
func (o *rootOptions) loadConfig() (config.Config, *zerolog.Logger, error) {
	bootLogger := log.New("warn")
	cfg, _, err := config.Load(bootLogger, o.configPath)
	if err != nil {
		return cfg, nil, err
	}
	if o.serverURL != "" {
		cfg.Client.ServerURL = o.serverURL
	}
	level := cfg.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	return cfg, log.New(level), nil
}
