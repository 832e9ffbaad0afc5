package main

import (
	"fmt"

	"github.com/spf13/cobra"

	gamenight "github.com/gamenight-app/gamenight/sdk/golang"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status [user-id]",
	Short: "Show configuration, or your relationship to a user",
	Long:  "Without arguments, display the current configuration. With a user id, resolve your relationship to that user.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return showConfigSummary()
		}

		ctx, cancel := commandContext()
		defer cancel()
		session, closeSession, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer closeSession()

		target := args[0]
		rel, err := session.Status(ctx, target)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		invitationID, _, err := session.Relationships().InvitationIDFor(ctx, session.User(), target)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if jsonOutput {
			printJSON(map[string]string{"userId": target, "status": string(rel), "invitationId": invitationID})
			return nil
		}
		fmt.Printf("%s: %s\n", target, rel)
		switch rel {
		case gamenight.RelationPendingSent:
			fmt.Printf("  Cancel with: gamenight invite cancel %s\n", invitationID)
		case gamenight.RelationPendingReceived:
			fmt.Printf("  Accept with: gamenight invite accept %s\n", invitationID)
		}
		return nil
	},
}

func showConfigSummary() error {
	cfg, err := resolveConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("Configuration:")
	fmt.Printf("  Base URL:  %s\n", valueOrDefault(cfg.Default.BaseURL, gamenight.DefaultBaseURL))
	fmt.Printf("  Push:      %s\n", valueOrDefault(cfg.Push.Transport, "none"))
	if cfg.Push.URL != "" {
		fmt.Printf("  Push URL:  %s\n", cfg.Push.URL)
	}
	fmt.Printf("  Cache TTL: %s\n", valueOrDefault(cfg.Cache.TTL, gamenight.DefaultCacheTTL.String()))

	fmt.Println()
	fmt.Println("Auth:")
	fmt.Printf("  User ID:   %s\n", valueOrDefault(cfg.Auth.UserID, "(not set)"))
	if cfg.Auth.Token != "" {
		fmt.Printf("  Token:     %s\n", maskKey(cfg.Auth.Token))
	} else {
		fmt.Println("  Token:     (not set)")
	}
	return nil
}
