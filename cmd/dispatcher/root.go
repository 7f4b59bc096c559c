package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "dispatcher",
		Short: "Runs, validates and describes hierarchical device-validation pipeline jobs",
	}
	root.PersistentFlags().String("config", "", "path to a YAML config file layered under flags/env")
	root.PersistentFlags().String("device", "", "path to the device descriptor YAML file")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")

	root.AddCommand(newRunCommand())
	root.AddCommand(newValidateCommand())
	root.AddCommand(newDescribeCommand())
	return root
}
