package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/glyphcore/taskgraph/logger"
)

// loggerState builds the process Logger from the --log-file/--verbose flags
// once cobra has parsed them, and -- when logging to a file -- wires SIGHUP
// to reopen it, the same hook a logrotate postrotate script sends a
// long-running daemon.
type loggerState struct {
	logger logger.Logger
	file   *logger.FileWriter
	stop   chan struct{}
}

// setup reads the flags bound on rc's flag set and constructs the logger.
// Must run after bindConfig so --log-file/--verbose have picked up any env
// var or config file value, not just a literal command-line flag.
func (s *loggerState) setup(flags *pflag.FlagSet) error {
	path, err := flags.GetString("log-file")
	if err != nil {
		return err
	}
	verbose, err := flags.GetBool("verbose")
	if err != nil {
		return err
	}

	if path == "" && !verbose {
		// The common case -- no flags given at all -- reuses the package's
		// own stderr logger rather than building an identical one.
		s.logger = logger.StderrLogger
		return nil
	}

	var w io.Writer = os.Stderr
	if path != "" {
		fw, err := logger.NewFileWriter(path)
		if err != nil {
			return fmt.Errorf("opening log file %q: %w", path, err)
		}
		s.file = fw
		w = fw
		s.watchSIGHUP()
	}

	if verbose {
		s.logger = logger.NewVerboseLogger(w)
	} else {
		s.logger = logger.NewStandardLogger(w)
	}
	return nil
}

// watchSIGHUP reopens the log file on every SIGHUP received, so an external
// log rotator can move taskgraphd.log aside and have the next write land in
// a fresh file instead of the rotator's unlinked one.
func (s *loggerState) watchSIGHUP() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)
	s.stop = make(chan struct{})
	go func() {
		for {
			select {
			case <-sig:
				s.file.Reopen()
			case <-s.stop:
				signal.Stop(sig)
				return
			}
		}
	}()
}

// close stops the SIGHUP watcher, if any, and closes the log file.
func (s *loggerState) close() {
	if s.stop != nil {
		close(s.stop)
	}
	if s.file != nil {
		s.file.Close()
	}
}
