package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func (a *app) notificationsCmd() *cobra.Command {
	var (
		markRead   bool
		unreadOnly bool
	)
	cmd := &cobra.Command{
		Use:     "notifications [actor_id]",
		Aliases: []string{"notes"},
		Short:   "List an actor's notifications",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolveActor(args)
			if err != nil {
				return err
			}
			notes, err := a.actors.Notifications(id)
			if err != nil {
				return fmt.Errorf("notifications: %w", err)
			}
			if unreadOnly {
				kept := notes[:0:0]
				for _, n := range notes {
					if !n.Read {
						kept = append(kept, n)
					}
				}
				notes = kept
			}
			if markRead {
				if err := a.actors.MarkNotificationsRead(id); err != nil {
					return fmt.Errorf("notifications: mark read: %w", err)
				}
			}

			if a.jsonOut {
				printJSON(a.out, notes)
				return nil
			}
			if len(notes) == 0 {
				a.printf("no notifications\n")
				return nil
			}
			for _, n := range notes {
				marker := "*"
				if n.Read {
					marker = " "
				}
				at := time.UnixMicro(n.At).Format("15:04:05")
				a.printf("%s [%s] %-16s %s\n", marker, at, n.Type, n.Message)
			}
			if markRead {
				a.printf("marked all read\n")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&markRead, "mark-read", false, "mark every notification read")
	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "only show unread notifications")
	return cmd
}
