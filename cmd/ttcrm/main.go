package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tableturnerr/ttcrm/internal/pocketbase"
	"github.com/tableturnerr/ttcrm/internal/view"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "ttcrm",
	Short:         "TableTurnerr CRM from the command line",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
	rootCmd.AddCommand(companiesCmd, coldCallsCmd, recordingsCmd, notesCmd, teamCmd)
	rootCmd.AddCommand(leadsCmd, statsCmd, outboxCmd, configCmd)
	rootCmd.AddCommand(serveCmd, stopCmd, statusCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		reportError(err)
		os.Exit(1)
	}
}

// reportError prints err for the user. Discarded results are not errors.
func reportError(err error) {
	switch {
	case pocketbase.IsCancelled(err), errors.Is(err, view.ErrSuperseded), errors.Is(err, view.ErrStale):
		return
	case errors.Is(err, pocketbase.ErrNotAuthenticated), pocketbase.StatusOf(err) == 401:
		printError("Not signed in. Run `ttcrm login` first.")
	default:
		printError("%v", err)
	}
}
