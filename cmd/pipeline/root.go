package main

import "github.com/spf13/cobra"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pipeline",
		Short: "Run and administer the code-knowledge-graph triangulation pipeline",
	}
	root.AddCommand(
		newStartCmd(),
		newStopCmd(),
		newStatusCmd(),
		newClearCmd(),
		newTestConnectionsCmd(),
	)
	return root
}
