package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) logCmd() *cobra.Command {
	var (
		since int64
		limit int
		raw   bool
	)
	cmd := &cobra.Command{
		Use:   "log [actor_id]",
		Short: "List an actor's raw event log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolveActor(args)
			if err != nil {
				return err
			}
			events, err := a.actors.Events(id)
			if err != nil {
				return fmt.Errorf("log: %w", err)
			}
			start := 0
			for start < len(events) && events[start].Seq <= since {
				start++
			}
			events = events[start:]
			if limit > 0 && len(events) > limit {
				events = events[len(events)-limit:]
			}

			if a.jsonOut {
				printJSON(a.out, events)
				return nil
			}
			if len(events) == 0 {
				a.printf("no events\n")
				return nil
			}
			for _, e := range events {
				key := ""
				if e.DedupeKey != "" {
					key = " key=" + e.DedupeKey
				}
				a.printf("[seq=%d] %-24s%s\n", e.Seq, e.Kind, key)
				if raw {
					a.printf("    %s\n", e.Payload)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "only events with a sequence key above this")
	cmd.Flags().IntVar(&limit, "limit", 0, "show at most the last N events (0 for all)")
	cmd.Flags().BoolVar(&raw, "payload", false, "print each event's payload")
	return cmd
}
