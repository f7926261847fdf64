package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "workshop-progress",
	Short: "Workshop learner progress service",
	Long:  "Tracks learner progress through workshops, unlocks steps, scores quizzes and keeps progress in sync with the workshop service.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportStatsCmd)
}
