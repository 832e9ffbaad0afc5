package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	gamenight "github.com/gamenight-app/gamenight/sdk/golang"
)

var messagesPages int

func init() {
	messagesListCmd.Flags().IntVar(&messagesPages, "pages", 1, "Number of pages to load")
	messagesCmd.AddCommand(messagesListCmd)
	messagesCmd.AddCommand(messagesSendCmd)
	rootCmd.AddCommand(messagesCmd)
}

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Direct message commands",
}

var messagesListCmd = &cobra.Command{
	Use:   "list <user-id>",
	Short: "Show the conversation with a user, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		session, closeSession, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer closeSession()

		stream, err := session.Conversation(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		for i := 1; i < messagesPages && stream.HasMore(); i++ {
			if err := stream.LoadOlder(ctx); err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
		}

		msgs := stream.Messages()
		if jsonOutput {
			printJSON(msgs)
			return nil
		}
		if len(msgs) == 0 {
			fmt.Println("No messages.")
			return nil
		}
		for _, m := range msgs {
			printMessage(m)
		}
		if stream.HasMore() {
			fmt.Printf("(more with --pages %d)\n", stream.Page()+1)
		}
		return nil
	},
}

var messagesSendCmd = &cobra.Command{
	Use:   "send <user-id> <content...>",
	Short: "Send a message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		session, closeSession, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer closeSession()

		stream, err := session.Conversation(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		msg, err := stream.Send(ctx, strings.Join(args[1:], " "))
		if err != nil {
			return fmt.Errorf("%s: %w", msg.Error, err)
		}
		if jsonOutput {
			printJSON(msg)
			return nil
		}
		fmt.Printf("Sent %s\n", msg.ID)
		return nil
	},
}

func printMessage(m gamenight.Message) {
	state := ""
	switch {
	case m.Failed():
		state = fmt.Sprintf(" [%s, attempts %d]", m.Error, m.RetryCount)
	case m.IsOptimistic:
		state = " [sending]"
	}
	fmt.Printf("%s  %-12s %s%s\n", m.CreatedAt.Format("2006-01-02 15:04"), gamenight.NormalizeID(m.SenderID), m.Content, state)
}
