package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <job.yaml>",
		Short: "Run a job definition to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := bindConfig(cmd)
			if err != nil {
				return err
			}

			exec, j, err := buildRun(args[0], v.GetString("device"), v.GetString("log-level"))
			if err != nil {
				return err
			}
			defer j.Close()

			outcome := exec.Run(context.Background())
			if !outcome.Validated {
				return fmt.Errorf("job did not validate: %w", outcome.Err)
			}
			if outcome.Err != nil {
				return fmt.Errorf("job failed: %w", outcome.Err)
			}
			summary := j.Summary()
			cmd.Printf("job %s finished with status %s\n", j.Name(), summary.JobStatus)
			return nil
		},
	}
	return cmd
}
