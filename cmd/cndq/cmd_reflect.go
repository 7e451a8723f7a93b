package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/daviddao/cndq/pkg/reflection"
)

func (a *app) reflectCmd() *cobra.Command {
	var sweep bool
	cmd := &cobra.Command{
		Use:   "reflect",
		Short: "Mirror pending trades into counterparty logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mirrored, err := a.reflector.ProcessReflections()
			if err != nil {
				return fmt.Errorf("reflect: %w", err)
			}
			swept := 0
			if sweep {
				if swept, err = a.reflector.Sweep(); err != nil {
					return fmt.Errorf("reflect: sweep: %w", err)
				}
			}
			status, err := a.reflector.Status()
			if err != nil {
				return fmt.Errorf("reflect: %w", err)
			}

			if a.jsonOut {
				printJSON(a.out, map[string]interface{}{
					"mirrored": mirrored,
					"swept":    swept,
					"status":   status,
				})
				return nil
			}
			a.printf("mirrored %d trade(s)", mirrored)
			if sweep {
				a.printf(", sweep repaired %d", swept)
			}
			a.printf("\n")
			if n := len(status.BlockedBy); n > 0 {
				a.printf("%d trade(s) still pending; see 'cndq frontier'\n", n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&sweep, "sweep", false, "also scan every actor for trades still flagged pending")
	return cmd
}

func (a *app) frontierCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "frontier",
		Short: "Show reflection progress and the trades holding it back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := a.reflector.Status()
			if err != nil {
				return fmt.Errorf("frontier: %w", err)
			}
			if a.jsonOut {
				printJSON(a.out, status)
				return nil
			}
			a.printf("index head=%d cursor=%d watermark=%d\n", status.Head, status.Cursor, status.Watermark)
			if status.CaughtUp {
				a.printf("CAUGHT UP: every trade is mirrored\n")
			} else {
				a.printf("NOT CAUGHT UP\n")
				for _, p := range status.BlockedBy {
					reason := ""
					if p.Reason != "" {
						reason = " (" + p.Reason + ")"
					}
					a.printf("  blocked by %s at pos=%d: %s -> %s%s\n", p.TradeID, p.Pos, p.From, p.To, reason)
				}
			}
			if len(status.Frontier) > 0 {
				a.printf("frontier:\n")
				for _, p := range status.Frontier {
					a.printf("  %s @ pos=%d (%s)\n", p.To, p.Pos, p.TradeID)
				}
			}
			return nil
		},
	}
}

// pollCmd runs the reflection poller in the foreground until interrupted.
func (a *app) pollCmd() *cobra.Command {
	var (
		interval   time.Duration
		sweepEvery int
	)
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run reflection passes on a timer until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				interval = a.cfg.PollInterval
			}
			if sweepEvery <= 0 {
				sweepEvery = a.cfg.SweepEvery
			}
			p := reflection.NewPoller(a.reflector, reflection.PollerConfig{
				Interval:   interval,
				SweepEvery: sweepEvery,
				KickRate:   rate.Limit(a.cfg.ReflectRate),
				KickBurst:  a.cfg.ReflectBurst,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.ErrOrStderr(), "polling every %s, sweeping every %d polls (ctrl-c to stop)\n",
				interval, sweepEvery)
			p.Kick()
			if err := p.Run(ctx); err != nil {
				return fmt.Errorf("poll: %w", err)
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "stopped")
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (default from config)")
	cmd.Flags().IntVar(&sweepEvery, "sweep-every", 0, "full sweep every N polls (default from config)")
	return cmd
}
