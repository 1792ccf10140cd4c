package main

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/example/appauth/internal/config"
	"github.com/example/appauth/internal/store"
)

// opener connects to the credential store for one command invocation.
type opener func(ctx context.Context) (store.Store, *config.Config, error)

func openFromEnv(ctx context.Context) (store.Store, *config.Config, error) {
	c, err := config.New()
	if err != nil {
		return nil, nil, err
	}
	s, err := store.Open(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	return s, c, nil
}

func newRootCmd(open opener, out io.Writer) *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "appauthctl",
		Short:         "appauthctl administers the application credential service",
		Long:          `A command-line interface for registering applications and maintaining issued API tokens directly against the configured database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.WarnLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			zerolog.SetGlobalLevel(level)
		},
	}
	root.SetOut(out)
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newAppCmd(open), newTokensCmd(open))
	return root
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if err := newRootCmd(openFromEnv, os.Stdout).Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
