package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	friendsCmd.AddCommand(friendsListCmd)
	friendsCmd.AddCommand(friendsRemoveCmd)
	rootCmd.AddCommand(friendsCmd)
	rootCmd.AddCommand(blockCmd)
}

var friendsCmd = &cobra.Command{
	Use:   "friends",
	Short: "Friend list commands",
}

var friendsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List friends and pending invitations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		session, closeSession, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer closeSession()

		snap, err := session.Relationships().State(ctx, session.User())
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if jsonOutput {
			printJSON(snap)
			return nil
		}

		fmt.Printf("Friends (%d):\n", len(snap.Friends))
		for _, id := range snap.Friends {
			fmt.Printf("  %s\n", id)
		}
		fmt.Printf("Sent invitations (%d):\n", len(snap.Sent))
		for _, inv := range snap.Sent {
			fmt.Printf("  %s  to %s  %s\n", inv.ID, inv.To(), inv.CreatedAt.Format("2006-01-02 15:04"))
		}
		fmt.Printf("Received invitations (%d):\n", len(snap.Received))
		for _, inv := range snap.Received {
			fmt.Printf("  %s  from %s  %s\n", inv.ID, inv.From(), inv.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var friendsRemoveCmd = &cobra.Command{
	Use:   "remove <user-id>",
	Short: "Remove a friend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		session, closeSession, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer closeSession()

		res := session.Invitations().RemoveFriend(ctx, session.User(), args[0])
		if !res.Success {
			return mutationError(res)
		}
		fmt.Printf("Removed %s from friends\n", args[0])
		return nil
	},
}

var blockCmd = &cobra.Command{
	Use:   "block <user-id>",
	Short: "Block a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		session, closeSession, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer closeSession()

		res := session.Invitations().Block(ctx, session.User(), args[0])
		if !res.Success {
			return mutationError(res)
		}
		fmt.Printf("Blocked %s\n", args[0])
		return nil
	},
}
