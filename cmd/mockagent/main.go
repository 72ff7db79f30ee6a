// mockagent is a development participant for the arbiter. It serves the
// agent webhook contract and scores messages by keyword overlap.
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
	With().
	Timestamp().
	Logger()

var rootCmd = &cobra.Command{
	Use:           "mockagent",
	Short:         "Keyword-scoring webhook agent for local arbiter testing",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("mockagent failed")
		os.Exit(1)
	}
}
