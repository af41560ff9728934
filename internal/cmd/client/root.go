package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs the root Cobra command for the work queue client.
// It registers the queue operations and the feed command group.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "wq",
		Short:        "Work queue client commands",
		SilenceUsage: true,
	}
	AddPersistentFlags(root)
	AddCommands(root)
	return root
}

// AddPersistentFlags registers the connection and output flags on root.
func AddPersistentFlags(root *cobra.Command) {
	root.PersistentFlags().String("addr", "", "Queue gRPC address (default $WQ_ADDR or "+defaultAddr+")")
	root.PersistentFlags().StringP("output", "o", "json", "Output format: json|yaml")
}

// AddCommands registers every client command on root.
func AddCommands(root *cobra.Command) {
	root.AddCommand(
		newQueueCommand(),
		newGetWorkCommand(),
		newStatusCommand(),
		newSummaryCommand(),
		newPriorityCommand(),
		newCancelCommand(),
		newSetStatusCommand(),
		newCleanupCommand(),
		newRefreshLocationsCommand(),
		newSyncCommand(),
		newSlotsCommand(),
		newInfoCommand(),
		NewFeedCommand(),
	)
}
