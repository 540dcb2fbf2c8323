package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// newRootCommand builds the taskgraphd root command, layering flags, env
// vars and an optional TOML config file the way cmd.NewRootCommand does via
// setAllConfig: flags win, then env, then the config file, then defaults.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	lh := &loggerState{}

	rc := &cobra.Command{
		Use:   "taskgraphd",
		Short: "Demo driver for the surface task graph and scheduler.",
		Long: `taskgraphd runs a small surface task graph end to end and
reports its scheduler counters, or prints the service's default
configuration.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := bindConfig(viper.New(), cmd.Flags()); err != nil {
				return err
			}
			return lh.setup(cmd.Flags())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			lh.close()
		},
	}
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")
	rc.PersistentFlags().String("log-file", "", "Write logs to this file instead of stderr. Reopened on SIGHUP.")
	rc.PersistentFlags().BoolP("verbose", "v", false, "Log at debug level.")

	rc.AddCommand(newConfigCommand(stdout))
	rc.AddCommand(newRunCommand(stdout, lh))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// bindConfig mirrors setAllConfig's flag/env/file layering: every flag in
// the set is bound into v, environment variables prefixed TASKGRAPHD_ take
// precedence over a config file's values, and flags already set on the
// command line win over both.
func bindConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	v.SetEnvPrefix("TASKGRAPHD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if c := v.GetString("config"); c != "" {
		v.SetConfigFile(c)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading configuration file %q: %w", c, err)
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed {
			return
		}
		if value := v.GetString(f.Name); value != "" {
			flagErr = f.Value.Set(value)
		}
	})
	return flagErr
}
