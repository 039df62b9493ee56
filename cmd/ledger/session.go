package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/mmynk/duoledger/internal/controller"
)

type loginCmd struct{}

func (*loginCmd) Name() string     { return "login" }
func (*loginCmd) Synopsis() string { return "request a one-time sign-in link" }
func (*loginCmd) Usage() string {
	return `ledger login <identity>

  Sends a sign-in link to an allow-listed identity. Complete the sign-in
  with 'ledger verify <link>'.
`
}

func (*loginCmd) SetFlags(*flag.FlagSet) {}

func (*loginCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "login takes exactly one identity")
		return subcommands.ExitUsageError
	}
	a, status := openApp(ctx)
	if a == nil {
		return status
	}
	defer a.Close()

	if err := a.Controller.RequestAccess(ctx, f.Arg(0)); err != nil {
		return fail("requesting sign-in link", err)
	}
	fmt.Printf("Sign-in link sent to %s. Run 'ledger verify <link>' once it arrives.\n", f.Arg(0))
	return subcommands.ExitSuccess
}

type verifyCmd struct{}

func (*verifyCmd) Name() string     { return "verify" }
func (*verifyCmd) Synopsis() string { return "complete sign-in with a link" }
func (*verifyCmd) Usage() string {
	return `ledger verify <link|token>

  Exchanges a one-time sign-in link, or the bare token it carries, for a
  session that is kept for later commands.
`
}

func (*verifyCmd) SetFlags(*flag.FlagSet) {}

func (*verifyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "verify takes exactly one link")
		return subcommands.ExitUsageError
	}
	a, status := openApp(ctx)
	if a == nil {
		return status
	}
	defer a.Close()

	if err := a.CompleteSignIn(ctx, f.Arg(0)); err != nil {
		return fail("verifying sign-in link", err)
	}
	state, identity := a.Controller.State()
	if state != controller.Authenticated {
		fmt.Fprintln(os.Stderr, "Sign-in did not produce a usable session.")
		return subcommands.ExitFailure
	}
	fmt.Printf("Signed in as %s.\n", identity)
	return subcommands.ExitSuccess
}

type logoutCmd struct{}

func (*logoutCmd) Name() string     { return "logout" }
func (*logoutCmd) Synopsis() string { return "end the current session" }
func (*logoutCmd) Usage() string {
	return `ledger logout

  Revokes the session with the server and forgets it locally.
`
}

func (*logoutCmd) SetFlags(*flag.FlagSet) {}

func (*logoutCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, status := openApp(ctx)
	if a == nil {
		return status
	}
	defer a.Close()

	if err := a.Controller.SignOut(ctx); err != nil {
		// The local session is gone either way.
		fmt.Fprintf(os.Stderr, "Warning: %s\n", describe(err))
	}
	fmt.Println("Signed out.")
	return subcommands.ExitSuccess
}

type statusCmd struct{}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "show who is signed in" }
func (*statusCmd) Usage() string {
	return `ledger status

  Prints the authentication state and the server in use.
`
}

func (*statusCmd) SetFlags(*flag.FlagSet) {}

func (*statusCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, status := openApp(ctx)
	if a == nil {
		return status
	}
	defer a.Close()

	state, identity := a.Controller.State()
	fmt.Printf("server:  %s\n", a.Config.ServerURL)
	fmt.Printf("state:   %s\n", state)
	if identity != "" {
		fmt.Printf("signed in as %s\n", identity)
	}
	return subcommands.ExitSuccess
}
