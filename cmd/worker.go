package cmd

import (
	"driveq/internal/worker"

	"github.com/spf13/cobra"
)

func workerCmd() *cobra.Command {
	var workerID string

	var command = &cobra.Command{
		Use:   "worker",
		Short: "Start worker process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return worker.Run(worker.Config{
				WorkerID: workerID,
			})
		},
	}

	command.Flags().StringVar(&workerID, "worker-id", "", "Worker identity (default: generated from hostname and pid)")

	return command
}
