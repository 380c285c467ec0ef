package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "figgie",
		Short:         "Figgie trading simulator",
		Long:          "Run Figgie sessions between bots and human seats, settle hands and replay recorded rounds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newPlayCmd(),
		newConfigCmd(),
		newSettleCmd(),
		newReplayCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
