// Command ledger is the client for a shared two-party expense ledger.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"

	"github.com/mmynk/duoledger/pkg/logging"
)

var plain = flag.Bool("plain", false, "Print raw markdown instead of rendering it for the terminal")

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&loginCmd{}, "session")
	commander.Register(&verifyCmd{}, "session")
	commander.Register(&logoutCmd{}, "session")
	commander.Register(&statusCmd{}, "session")

	commander.Register(&listCmd{}, "ledger")
	commander.Register(&balanceCmd{}, "ledger")
	commander.Register(&addCmd{}, "ledger")
	commander.Register(&editCmd{}, "ledger")
	commander.Register(&deleteCmd{}, "ledger")
	commander.Register(&clearCmd{}, "ledger")
	commander.Register(&watchCmd{}, "ledger")

	flag.Parse()
	logging.SetupWithDefault(slog.LevelWarn)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := commander.Execute(ctx)
	stop()
	os.Exit(int(status))
}
