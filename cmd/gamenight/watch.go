package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	gamenight "github.com/gamenight-app/gamenight/sdk/golang"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print push events for the signed-in user until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		session, closeSession, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer closeSession()
		if session.Subscriber() == nil {
			return fmt.Errorf("no push transport configured; set push.transport")
		}

		session.Subscriber().OnEvent(func(ctx context.Context, ev gamenight.PushEvent) {
			if jsonOutput {
				printJSON(ev)
				return
			}
			if !gamenight.IsRelationshipEvent(ev.Name) {
				fmt.Printf("%-28s %s\n", ev.Name, string(ev.Payload))
				return
			}
			snap, err := session.Relationships().State(ctx, session.User())
			if err != nil {
				fmt.Printf("%-28s (refresh failed: %v)\n", ev.Name, err)
				return
			}
			fmt.Printf("%-28s friends=%d sent=%d received=%d\n", ev.Name, len(snap.Friends), len(snap.Sent), len(snap.Received))
		})

		fmt.Fprintf(os.Stderr, "Watching %s, Ctrl-C to stop\n", gamenight.TopicFor(session.User()))
		<-ctx.Done()
		return nil
	},
}
