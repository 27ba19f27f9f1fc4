// webhookctl manages the bot's webhook registration: set, remove, inspect.
// It talks to the Bot API directly and never touches the database.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskflow/telegram-bridge/internal/config"
	"github.com/taskflow/telegram-bridge/internal/telegram"
	"github.com/taskflow/telegram-bridge/pkg/utils"
)

var (
	configPath string

	setURL         string
	setSecret      string
	maxConnections int
	allowedUpdates []string
	dropPending    bool
)

func main() {
	root := &cobra.Command{
		Use:          "webhookctl",
		Short:        "Manage the Telegram webhook registration",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to config file")

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Register the webhook URL",
		RunE:  runSet,
	}
	setCmd.Flags().StringVar(&setURL, "url", "", "webhook URL (defaults to telegram.webhook_url)")
	setCmd.Flags().StringVar(&setSecret, "secret", "", "secret token (defaults to telegram.webhook_secret)")
	setCmd.Flags().IntVar(&maxConnections, "max-connections", 0, "max simultaneous webhook connections")
	setCmd.Flags().StringSliceVar(&allowedUpdates, "allowed-updates", nil, "update types to receive")
	setCmd.Flags().BoolVar(&dropPending, "drop-pending", false, "drop queued updates")

	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove the webhook registration",
		RunE:  runRemove,
	}
	removeCmd.Flags().BoolVar(&dropPending, "drop-pending", false, "drop queued updates")

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show the current webhook registration",
		RunE:  runInfo,
	}

	root.AddCommand(setCmd, removeCmd, infoCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newClient() (*telegram.Client, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:  "warn",
		Format: "console",
	})
	if err != nil {
		return nil, nil, err
	}

	client := telegram.NewClient(telegram.Config{
		Token:       cfg.Telegram.BotToken,
		BaseURL:     cfg.Telegram.APIBaseURL,
		Timeout:     cfg.Telegram.APITimeout,
		MaxAttempts: cfg.Telegram.RetryAttempts,
	}, logger)
	return client, cfg, nil
}

func runSet(cmd *cobra.Command, args []string) error {
	client, cfg, err := newClient()
	if err != nil {
		return err
	}

	target := setURL
	if target == "" {
		target = cfg.Telegram.WebhookURL
	}
	if err := validateWebhookURL(target); err != nil {
		return err
	}

	secret := setSecret
	if secret == "" {
		secret = cfg.Telegram.WebhookSecret
	}
	connections := maxConnections
	if connections == 0 {
		connections = cfg.Telegram.MaxConnections
	}
	updates := allowedUpdates
	if len(updates) == 0 {
		updates = cfg.Telegram.AllowedUpdates
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.SetWebhook(ctx, target, telegram.WebhookOptions{
		SecretToken:    secret,
		MaxConnections: connections,
		AllowedUpdates: updates,
		DropPending:    dropPending,
	}); err != nil {
		return err
	}

	fmt.Printf("Webhook set to %s\n", target)
	return nil
}

// validateWebhookURL rejects malformed or non-HTTPS URLs before any
// provider call is made.
func validateWebhookURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("webhook URL is required (--url or telegram.webhook_url)")
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("invalid webhook URL: %s", raw)
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("webhook URL must use https: %s", raw)
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.DeleteWebhook(ctx, dropPending); err != nil {
		return err
	}

	fmt.Println("Webhook removed")
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	info, err := client.GetWebhookInfo(ctx)
	if err != nil {
		return err
	}

	if info.URL == "" {
		fmt.Println("No webhook registered")
		return nil
	}

	fmt.Printf("URL:              %s\n", info.URL)
	fmt.Printf("Pending updates:  %d\n", info.PendingUpdateCount)
	fmt.Printf("Max connections:  %d\n", info.MaxConnections)
	if len(info.AllowedUpdates) > 0 {
		fmt.Printf("Allowed updates:  %v\n", info.AllowedUpdates)
	}
	if info.LastErrorDate > 0 {
		fmt.Printf("Last error:       %s (%s)\n",
			info.LastErrorMessage,
			time.Unix(info.LastErrorDate, 0).Format(time.RFC3339))
	}
	return nil
}
