package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmdPersistentFlagSet(flags *globalFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet("", pflag.ContinueOnError)
	fs.StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	fs.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	return fs
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "pagecap",
		Short:         "Record websites and take screenshots with a headless browser",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().AddFlagSet(rootCmdPersistentFlagSet(flags))

	root.AddCommand(
		newServeCommand(flags),
		newCaptureCommand(flags),
		newPresetsCommand(),
	)
	return root
}
