package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/google/subcommands"

	"github.com/mmynk/duoledger/internal/app"
	"github.com/mmynk/duoledger/internal/auth"
	"github.com/mmynk/duoledger/internal/config"
	"github.com/mmynk/duoledger/internal/controller"
	"github.com/mmynk/duoledger/internal/editor"
	"github.com/mmynk/duoledger/internal/storage"
)

// openApp loads the configuration and starts an App with the stored session.
// The caller must Close the App.
func openApp(ctx context.Context) (*app.App, subcommands.ExitStatus) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return nil, subcommands.ExitUsageError
	}
	a, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration:\n%v\n", err)
		return nil, subcommands.ExitUsageError
	}
	if err := a.Start(ctx); err != nil {
		a.Close()
		fmt.Fprintf(os.Stderr, "Error checking session: %v\n", err)
		return nil, subcommands.ExitFailure
	}
	return a, subcommands.ExitSuccess
}

// openSignedIn is openApp for commands that need an authenticated session.
func openSignedIn(ctx context.Context) (*app.App, subcommands.ExitStatus) {
	a, status := openApp(ctx)
	if a == nil {
		return nil, status
	}
	if state, _ := a.Controller.State(); state != controller.Authenticated {
		a.Close()
		fmt.Fprintln(os.Stderr, "Not signed in. Run `ledger login <identity>` first.")
		return nil, subcommands.ExitFailure
	}
	return a, subcommands.ExitSuccess
}

// printMarkdown renders md for the terminal, or prints it as is with -plain.
func printMarkdown(md string) {
	if *plain {
		fmt.Print(md)
		return
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		fmt.Print(md)
		return
	}
	out, err := r.Render(md)
	if err != nil {
		fmt.Print(md)
		return
	}
	fmt.Print(out)
}

// describe turns the error types of the client components into a message.
func describe(err error) string {
	var (
		ve *editor.ValidationError
		pe *auth.ProviderError
		se *storage.StoreError
	)
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.Is(err, auth.ErrUnauthorized):
		return "identity is not allowed to use this ledger"
	case errors.Is(err, storage.ErrNotFound):
		return "no such expense"
	case errors.As(err, &pe):
		return fmt.Sprintf("identity provider: %v", pe.Err)
	case errors.As(err, &se):
		return fmt.Sprintf("ledger store: %v", se.Err)
	}
	return err.Error()
}

func fail(what string, err error) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "Error %s: %s\n", what, describe(err))
	var ve *editor.ValidationError
	if errors.As(err, &ve) {
		return subcommands.ExitUsageError
	}
	return subcommands.ExitFailure
}
