// Command taskgraphd is a small demo binary exercising the surface task
// graph and scheduler: it can print the service's default configuration or
// run a toy write/read task graph and report the manager's counters.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
