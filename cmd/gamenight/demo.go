package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	gamenight "github.com/gamenight-app/gamenight/sdk/golang"
)

func init() {
	rootCmd.AddCommand(demoCmd)
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run an invite, accept and chat round trip against an in-process store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		logger := slog.Default()
		broker := gamenight.NewBroker(logger)
		store := gamenight.NewMemoryStore(gamenight.WithPublisher(broker), gamenight.WithStoreLogger(logger))

		alice := gamenight.NewSession(store, broker, gamenight.WithLogger(logger))
		bob := gamenight.NewSession(store, broker, gamenight.WithLogger(logger))
		if err := alice.SignIn(ctx, "alice"); err != nil {
			return err
		}
		defer alice.SignOut()
		if err := bob.SignIn(ctx, "bob"); err != nil {
			return err
		}
		defer bob.SignOut()

		show := func(step string) error {
			a, err := alice.Status(ctx, "bob")
			if err != nil {
				return err
			}
			b, err := bob.Status(ctx, "alice")
			if err != nil {
				return err
			}
			fmt.Printf("%-24s alice->bob=%-17s bob->alice=%s\n", step, a, b)
			return nil
		}

		if err := show("start"); err != nil {
			return err
		}
		res := alice.Invitations().Send(ctx, "alice", "bob")
		if !res.Success {
			return mutationError(res)
		}
		if err := show("alice invites bob"); err != nil {
			return err
		}
		if again := alice.Invitations().Send(ctx, "alice", "bob"); !again.Success {
			fmt.Printf("%-24s rejected: %s\n", "alice invites again", again.Error.Message)
		}
		res = bob.Invitations().Respond(ctx, res.Invitation.ID, gamenight.ActionAccept, "bob")
		if !res.Success {
			return mutationError(res)
		}
		if err := show("bob accepts"); err != nil {
			return err
		}

		aliceChat, err := alice.Conversation(ctx, "bob")
		if err != nil {
			return err
		}
		bobChat, err := bob.Conversation(ctx, "alice")
		if err != nil {
			return err
		}
		if _, err := aliceChat.Send(ctx, "game night on friday?"); err != nil {
			return err
		}
		if _, err := bobChat.Send(ctx, "in, bringing catan"); err != nil {
			return err
		}

		fmt.Println()
		fmt.Println("alice's view:")
		for _, m := range aliceChat.Messages() {
			printMessage(m)
		}
		fmt.Println("bob's view:")
		for _, m := range bobChat.Messages() {
			printMessage(m)
		}
		return nil
	},
}
