package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Kellyhimself/POS-sub002/internal/app"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "posd",
		Short: "Offline-first point-of-sale daemon",
		Long:  "posd keeps a till selling without connectivity and syncs sales, stock, products and fiscal invoices once it is back online.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
	}

	defaultAddr := os.Getenv("POS_HTTP_ADDR")
	if defaultAddr == "" {
		defaultAddr = "127.0.0.1:8080"
	}
	root.PersistentFlags().String("addr", defaultAddr, "Local API address of the running daemon")

	root.Version = app.Version
	root.SetVersionTemplate(fmt.Sprintf("posd version %s\n", app.Version))

	root.AddCommand(newServeCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// ExitError carries a specific process exit code back to main.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{Code: code, Message: fmt.Sprintf(format, args...)}
}
