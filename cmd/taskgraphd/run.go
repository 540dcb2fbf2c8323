package main

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/jedib0t/go-pretty/table"
	"github.com/spf13/cobra"

	"github.com/glyphcore/taskgraph/config"
	"github.com/glyphcore/taskgraph/service"
	"github.com/glyphcore/taskgraph/surface"
)

// demoAllocation is the simplest possible surface.Allocation: it has no
// backing payload, just the access-tracking state every allocation must
// carry.
type demoAllocation struct {
	refs  int32
	state surface.AccessState
}

func (a *demoAllocation) Ref() error {
	atomic.AddInt32(&a.refs, 1)
	return nil
}
func (a *demoAllocation) Unref()                      { atomic.AddInt32(&a.refs, -1) }
func (a *demoAllocation) State() *surface.AccessState { return &a.state }

// newRunCommand drives a small write-then-read surface task graph to
// completion and renders the manager's scheduler counters as a table,
// grounded on cli/writer.go's use of go-pretty/table.
func newRunCommand(stdout io.Writer, lh *loggerState) *cobra.Command {
	var accessor string
	var readers int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a small demo task graph (one write, N reads) and print scheduler counters.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.NewConfig()
			svc, err := service.New(cfg, lh.logger)
			if err != nil {
				return err
			}
			if err := svc.Start(); err != nil {
				return err
			}
			defer svc.Stop()

			alloc := &demoAllocation{}

			writer := surface.NewTask(svc.Manager, accessor, svc.Dispatcher, func() {
				time.Sleep(time.Millisecond)
			}, 0, svc.Logger)
			if err := writer.AddAccess(alloc, surface.AccessWrite); err != nil {
				return err
			}

			readTasks := make([]*surface.Task, readers)
			for i := range readTasks {
				readTasks[i] = surface.NewTask(svc.Manager, accessor, svc.Dispatcher, func() {
					time.Sleep(time.Millisecond)
				}, 0, svc.Logger)
				if err := readTasks[i].AddAccess(alloc, surface.AccessRead); err != nil {
					return err
				}
			}

			beforeCount := svc.Manager.TaskCount()

			writer.Flush()
			for _, rt := range readTasks {
				rt.Flush()
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := svc.Manager.Sync(ctx); err != nil {
				return err
			}

			afterCount := svc.Manager.TaskCount()

			t := table.NewWriter()
			t.SetOutputMirror(stdout)
			t.AppendHeader(table.Row{"metric", "value"})
			t.AppendRow(table.Row{"accessor", accessor})
			t.AppendRow(table.Row{"readers", readers})
			t.AppendRow(table.Row{"task_count before", beforeCount})
			t.AppendRow(table.Row{"task_count after", afterCount})
			t.AppendRow(table.Row{"task_count_sync after", svc.Manager.TaskCountSync()})
			for name, n := range svc.Dispatcher.Sizes() {
				t.AppendRow(table.Row{"pool_size." + name, n})
			}
			t.Render()

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&accessor, "accessor", "gpu", "accessor name the demo tasks run on")
	flags.IntVar(&readers, "readers", 3, "number of reader tasks to run after the writer")

	return cmd
}
