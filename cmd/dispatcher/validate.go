package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <job.yaml>",
		Short: "Validate a job definition without running any action",
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

			errs := exec.Validate()
			if len(errs) == 0 {
				cmd.Println("job is valid")
				return nil
			}
			for _, e := range errs {
				cmd.Println(e)
			}
			return fmt.Errorf("job failed validation with %d error(s)", len(errs))
		},
	}
	return cmd
}
