package main

import (
	"fmt"

	"github.com/spf13/cobra"

	gamenight "github.com/gamenight-app/gamenight/sdk/golang"
)

func init() {
	inviteCmd.AddCommand(inviteSendCmd)
	inviteCmd.AddCommand(inviteRespondCmd("accept", gamenight.ActionAccept))
	inviteCmd.AddCommand(inviteRespondCmd("decline", gamenight.ActionDecline))
	inviteCmd.AddCommand(inviteCancelCmd)
	rootCmd.AddCommand(inviteCmd)
}

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Friend invitation commands",
}

var inviteSendCmd = &cobra.Command{
	Use:   "send <user-id>",
	Short: "Invite a user to be friends",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		session, closeSession, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer closeSession()

		res := session.Invitations().Send(ctx, session.User(), args[0])
		if !res.Success {
			return mutationError(res)
		}
		if jsonOutput {
			printJSON(res)
			return nil
		}
		fmt.Printf("Invitation %s sent to %s\n", res.Invitation.ID, args[0])
		return nil
	},
}

func inviteRespondCmd(use string, action gamenight.InvitationAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <invitation-id>",
		Short: fmt.Sprintf("%s a received invitation", action),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext()
			defer cancel()
			session, closeSession, err := openSession(ctx, false)
			if err != nil {
				return err
			}
			defer closeSession()

			res := session.Invitations().Respond(ctx, args[0], action, session.User())
			if !res.Success {
				return mutationError(res)
			}
			if jsonOutput {
				printJSON(res)
				return nil
			}
			fmt.Printf("Invitation %s %s\n", args[0], res.Invitation.Status)
			return nil
		},
	}
}

var inviteCancelCmd = &cobra.Command{
	Use:   "cancel <invitation-id>",
	Short: "Cancel a sent invitation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		session, closeSession, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer closeSession()

		res := session.Invitations().Cancel(ctx, args[0], session.User())
		if !res.Success {
			return mutationError(res)
		}
		fmt.Printf("Invitation %s cancelled\n", args[0])
		return nil
	},
}
