// Command dispatcher runs, validates and describes a pipeline job against a
// device descriptor. It is the cobra-based successor to the teacher's
// flag.FlagSet-driven entry point: the run/validate/describe subcommands
// and the --device, --config and --log-level flags are the same surface
// generalized to the job/device/pipeline model this module implements.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
