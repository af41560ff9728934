package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmwm/workqueue/internal/cmd/client/transports"
	"github.com/dmwm/workqueue/internal/handoff"
	"github.com/dmwm/workqueue/internal/services/workqueues"
)

var errTailDone = errors.New("tail limit reached")

// NewFeedCommand constructs the `feed` command group for a local queue's
// job handoff feed.
func NewFeedCommand() *cobra.Command {
	feedCmd := &cobra.Command{
		Use:   "feed",
		Short: "Job handoff feed operations",
		Long: `Job handoff feed operations on a local queue.

Acquired elements are published to the feed and move to Running. Consumer
groups read the feed independently and commit their position with ack.

  once   publish Acquired elements now
  read   read one batch after the group's cursor
  ack    commit the group's cursor
  tail   stream deliveries as they arrive`,
	}
	feedCmd.AddCommand(
		newFeedOnceCommand(),
		newFeedReadCommand(),
		newFeedAckCommand(),
		newFeedTailCommand(),
	)
	return feedCmd
}

func newFeedOnceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Publish Acquired elements to the feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTransport(cmd, func(tr transports.QueueTransport) error {
				n, err := tr.FeedOnce(cmd.Context())
				if err != nil {
					return err
				}
				return printResult(cmd, workqueues.CountResponse{Count: n})
			})
		},
	}
}

func newFeedReadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read deliveries after the group's cursor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			group, _ := cmd.Flags().GetString("group")
			limit, _ := cmd.Flags().GetInt("limit")
			wait, _ := cmd.Flags().GetDuration("wait")
			ack, _ := cmd.Flags().GetBool("ack")
			return withTransport(cmd, func(tr transports.QueueTransport) error {
				ds, err := tr.ReadFeed(cmd.Context(), workqueues.FeedReadRequest{Group: group, Limit: limit, WaitMs: wait.Milliseconds()})
				if err != nil {
					return err
				}
				if ack && len(ds) > 0 {
					if err := tr.AckFeed(cmd.Context(), group, ds[len(ds)-1].Seq); err != nil {
						return err
					}
				}
				return printResult(cmd, workqueues.FeedReadResponse{Deliveries: ds})
			})
		},
	}
	cmd.Flags().String("group", "", "Consumer group")
	cmd.Flags().Int("limit", 100, "Maximum deliveries")
	cmd.Flags().Duration("wait", 0, "Wait this long when nothing is ready")
	cmd.Flags().Bool("ack", false, "Commit the cursor past the returned deliveries")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

func newFeedAckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ack <seq>",
		Short: "Commit the group's cursor to seq",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			group, _ := cmd.Flags().GetString("group")
			var seq uint64
			if _, err := fmt.Sscanf(args[0], "%d", &seq); err != nil {
				return fmt.Errorf("seq %q: %w", args[0], err)
			}
			return withTransport(cmd, func(tr transports.QueueTransport) error {
				if err := tr.AckFeed(cmd.Context(), group, seq); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
				return nil
			})
		},
	}
	cmd.Flags().String("group", "", "Consumer group")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

func newFeedTailCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream deliveries for a consumer group",
		RunE: func(cmd *cobra.Command, _ []string) error {
			group, _ := cmd.Flags().GetString("group")
			autoAck, _ := cmd.Flags().GetBool("auto-ack")
			limit, _ := cmd.Flags().GetInt("limit")
			idle, _ := cmd.Flags().GetDuration("idle-exit")
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			var idleTimer *time.Timer
			if idle > 0 {
				idleTimer = time.AfterFunc(idle, cancel)
				defer idleTimer.Stop()
			}
			return withTransport(cmd, func(tr transports.QueueTransport) error {
				seen := 0
				err := tr.TailFeed(ctx, group, autoAck, func(d handoff.Delivery) error {
					if idleTimer != nil {
						idleTimer.Reset(idle)
					}
					if err := printDelivery(cmd, d); err != nil {
						return err
					}
					seen++
					if limit > 0 && seen >= limit {
						return errTailDone
					}
					return nil
				})
				if errors.Is(err, errTailDone) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().String("group", "", "Consumer group")
	cmd.Flags().Bool("auto-ack", false, "Commit the cursor after each batch")
	cmd.Flags().Int("limit", 0, "Stop after this many deliveries (0 = no limit)")
	cmd.Flags().Duration("idle-exit", 0, "Stop after this long without deliveries (0 = never)")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

// printDelivery writes one delivery per line.
func printDelivery(cmd *cobra.Command, d handoff.Delivery) error {
	el := d.Element
	if el == nil {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "seq=%d queue=%s\n", d.Seq, d.Queue)
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "seq=%d queue=%s id=%s request=%s task=%s jobs=%d\n",
		d.Seq, d.Queue, el.ID, el.RequestName, el.TaskName, el.Jobs)
	return err
}
