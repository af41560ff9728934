package client

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dmwm/workqueue/internal/cmd/client/transports"
	cfgpkg "github.com/dmwm/workqueue/internal/config"
	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/services/workqueues"
	"github.com/dmwm/workqueue/internal/workload"
	"github.com/dmwm/workqueue/internal/workqueue"
)

// newQueueCommand constructs the `queue` subcommand.
func newQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue <workload.yaml>",
		Short: "Split a workload into elements and queue them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := workload.LoadFile(args[0])
			if err != nil {
				return err
			}
			team, _ := cmd.Flags().GetString("team")
			return withTransport(cmd, func(tr transports.QueueTransport) error {
				resp, err := tr.QueueWork(cmd.Context(), workqueues.QueueWorkRequest{Workload: w, Team: team})
				if err != nil {
					return err
				}
				return printResult(cmd, resp)
			})
		},
	}
	cmd.Flags().String("team", "", "Team the elements are reserved for")
	return cmd
}

// newGetWorkCommand constructs the `getwork` subcommand.
func newGetWorkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "getwork",
		Short: "Acquire Available elements for a child queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, _ := cmd.Flags().GetString("queue")
			team, _ := cmd.Flags().GetString("team")
			limit, _ := cmd.Flags().GetInt("limit")
			slotsStr, _ := cmd.Flags().GetString("slots")
			slots, err := cfgpkg.ParseSlots(slotsStr)
			if err != nil {
				return err
			}
			return withTransport(cmd, func(tr transports.QueueTransport) error {
				els, err := tr.GetWork(cmd.Context(), workqueue.GetWorkRequest{Slots: slots, Queue: queue, Team: team, Limit: limit})
				if err != nil {
					return err
				}
				return printResult(cmd, workqueues.ElementsResponse{Elements: els})
			})
		},
	}
	cmd.Flags().String("queue", "", "Acquiring queue name")
	cmd.Flags().String("slots", "", "Free slots per site, e.g. SiteA=10,SiteB=4")
	cmd.Flags().String("team", "", "Only acquire elements of this team")
	cmd.Flags().Int("limit", 0, "Maximum elements (0 = no limit)")
	_ = cmd.MarkFlagRequired("queue")
	return cmd
}

// newStatusCommand constructs the `status` subcommand.
func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List elements",
		Long: `List elements, optionally filtered by request, status and a CEL
expression over the element fields, e.g.

  wq status --status Available,Acquired --expr 'priority > 1000'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			request, _ := cmd.Flags().GetString("request")
			expr, _ := cmd.Flags().GetString("expr")
			statuses, _ := cmd.Flags().GetStringSlice("status")
			f := workqueue.Filter{Request: request, Expr: expr}
			for _, s := range statuses {
				f.Statuses = append(f.Statuses, element.Status(strings.TrimSpace(s)))
			}
			return withTransport(cmd, func(tr transports.QueueTransport) error {
				els, err := tr.Status(cmd.Context(), f)
				if err != nil {
					return err
				}
				return printResult(cmd, workqueues.ElementsResponse{Elements: els})
			})
		},
	}
	cmd.Flags().String("request", "", "Request name")
	cmd.Flags().StringSlice("status", nil, "Element statuses")
	cmd.Flags().String("expr", "", "CEL filter expression")
	return cmd
}

// newSummaryCommand constructs the `summary` subcommand.
func newSummaryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize requests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			request, _ := cmd.Flags().GetString("request")
			return withTransport(cmd, func(tr transports.QueueTransport) error {
				sums, err := tr.Summary(cmd.Context(), request)
				if err != nil {
					return err
				}
				return printResult(cmd, workqueues.SummaryResponse{Requests: sums})
			})
		},
	}
	cmd.Flags().String("request", "", "Only this request")
	return cmd
}

// newPriorityCommand constructs the `priority` subcommand.
func newPriorityCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "priority <request> <priority>",
		Short: "Change the priority of a request's elements",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var prio int
			if _, err := fmt.Sscanf(args[1], "%d", &prio); err != nil {
				return fmt.Errorf("priority %q: %w", args[1], err)
			}
			return withTransport(cmd, func(tr transports.QueueTransport) error {
				n, err := tr.SetPriority(cmd.Context(), args[0], prio)
				if err != nil {
					return err
				}
				return printResult(cmd, workqueues.CountResponse{Count: n})
			})
		},
	}
	return cmd
}

// newCancelCommand constructs the `cancel` subcommand.
func newCancelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel requests or elements",
		RunE: func(cmd *cobra.Command, _ []string) error {
			requests, _ := cmd.Flags().GetStringSlice("request")
			ids, _ := cmd.Flags().GetStringSlice("id")
			if len(requests) == 0 && len(ids) == 0 {
				return fmt.Errorf("give --request or --id")
			}
			return withTransport(cmd, func(tr transports.QueueTransport) error {
				changed, err := tr.CancelWork(cmd.Context(), workqueue.CancelRequest{Requests: requests, IDs: ids})
				if err != nil {
					return err
				}
				return printResult(cmd, workqueues.IDsResponse{IDs: changed})
			})
		},
	}
	cmd.Flags().StringSlice("request", nil, "Requests to cancel")
	cmd.Flags().StringSlice("id", nil, "Element ids to cancel")
	return cmd
}

// newSetStatusCommand constructs the `set-status` subcommand.
func newSetStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-status <status> <id>...",
		Short: "Move elements forward to a status",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := workqueues.UpdateStatusRequest{Status: element.Status(args[0]), IDs: args[1:]}
			if cmd.Flags().Changed("percent-complete") || cmd.Flags().Changed("percent-success") {
				pc, _ := cmd.Flags().GetInt("percent-complete")
				ps, _ := cmd.Flags().GetInt("percent-success")
				req.Progress = &workqueue.Progress{PercentComplete: pc, PercentSuccess: ps}
			}
			return withTransport(cmd, func(tr transports.QueueTransport) error {
				resp, err := tr.UpdateStatus(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printResult(cmd, resp)
			})
		},
	}
	cmd.Flags().Int("percent-complete", 0, "Progress: percent complete")
	cmd.Flags().Int("percent-success", 0, "Progress: percent success")
	return cmd
}

// newCleanupCommand constructs the `cleanup` subcommand.
func newCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run one cleanup pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTransport(cmd, func(tr transports.QueueTransport) error {
				report, err := tr.Cleanup(cmd.Context())
				if err != nil {
					return err
				}
				return printResult(cmd, report)
			})
		},
	}
}

// newRefreshLocationsCommand constructs the `refresh-locations` subcommand.
func newRefreshLocationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-locations",
		Short: "Re-resolve data locations of Available elements",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTransport(cmd, func(tr transports.QueueTransport) error {
				n, err := tr.RefreshLocations(cmd.Context())
				if err != nil {
					return err
				}
				return printResult(cmd, workqueues.CountResponse{Count: n})
			})
		},
	}
}

// newSyncCommand constructs the `sync` subcommand.
func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one pull/push cycle against the parent queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTransport(cmd, func(tr transports.QueueTransport) error {
				resp, err := tr.Sync(cmd.Context())
				if err != nil {
					return err
				}
				return printResult(cmd, resp)
			})
		},
	}
}

// newSlotsCommand constructs the `slots` subcommand.
func newSlotsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "slots <site=count,...>",
		Short: "Replace the free job slots a local queue advertises",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slots, err := cfgpkg.ParseSlots(args[0])
			if err != nil {
				return err
			}
			return withTransport(cmd, func(tr transports.QueueTransport) error {
				if err := tr.SetSlots(cmd.Context(), slots); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
				return nil
			})
		},
	}
}

// newInfoCommand constructs the `info` subcommand.
func newInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show queue identity and element counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTransport(cmd, func(tr transports.QueueTransport) error {
				info, err := tr.Info(cmd.Context())
				if err != nil {
					return err
				}
				return printResult(cmd, info)
			})
		},
	}
}
