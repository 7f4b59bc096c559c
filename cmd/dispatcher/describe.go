package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newDescribeCommand() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "describe <job.yaml>",
		Short: "Print the pipeline structure a job definition would build",
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

			out, err := yaml.Marshal(exec.Describe(verbose))
			if err != nil {
				return err
			}
			cmd.Print(string(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&verbose, "verbose", false, "include each action's full attribute snapshot")
	return cmd
}
