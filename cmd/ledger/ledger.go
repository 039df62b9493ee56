package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"

	"github.com/mmynk/duoledger/internal/app"
	"github.com/mmynk/duoledger/internal/cache"
	"github.com/mmynk/duoledger/internal/calculator"
	"github.com/mmynk/duoledger/internal/editor"
	"github.com/mmynk/duoledger/internal/models"
)

type listCmd struct{}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "show every expense, newest first" }
func (*listCmd) Usage() string {
	return `ledger list

  Displays the ledger followed by who owes whom.
`
}

func (*listCmd) SetFlags(*flag.FlagSet) {}

func (*listCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, status := openSignedIn(ctx)
	if a == nil {
		return status
	}
	defer a.Close()

	snap, err := a.Cache.Refresh(ctx)
	if err != nil {
		return fail("loading ledger", err)
	}
	printMarkdown(a.Report.LedgerMarkdown(snap.Expenses))
	return subcommands.ExitSuccess
}

type balanceCmd struct{}

func (*balanceCmd) Name() string     { return "balance" }
func (*balanceCmd) Synopsis() string { return "show the settlement and totals" }
func (*balanceCmd) Usage() string {
	return `ledger balance

  Displays who owes whom and the totals per kind and payer.
`
}

func (*balanceCmd) SetFlags(*flag.FlagSet) {}

func (*balanceCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, status := openSignedIn(ctx)
	if a == nil {
		return status
	}
	defer a.Close()

	snap, err := a.Cache.Refresh(ctx)
	if err != nil {
		return fail("loading ledger", err)
	}
	printMarkdown(a.Report.SummaryMarkdown(snap.Expenses))
	return subcommands.ExitSuccess
}

// fieldFlags are the expense fields shared by add and edit.
type fieldFlags struct {
	name   string
	amount string
	kind   string
	payer  string
}

func (ff *fieldFlags) register(f *flag.FlagSet, defaults bool) {
	kind, payer := "", ""
	if defaults {
		kind, payer = string(models.KindShared), "a"
	}
	f.StringVar(&ff.name, "name", "", "What the expense was for.")
	f.StringVar(&ff.amount, "amount", "", "Amount paid. A comma is accepted as decimal separator.")
	f.StringVar(&ff.kind, "kind", kind, "shared (split 50/50) or individual (owed in full by the other party).")
	f.StringVar(&ff.payer, "payer", payer, "Who paid: a or b.")
}

// apply copies the flags that were set on the command line into the draft.
func (ff *fieldFlags) apply(f *flag.FlagSet, s *editor.Session) subcommands.ExitStatus {
	var bad error
	f.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "name":
			s.SetName(ff.name)
		case "amount":
			s.SetAmountText(ff.amount)
		case "kind":
			kind, err := models.ParseKind(ff.kind)
			if err != nil {
				bad = err
				return
			}
			s.SetKind(kind)
		case "payer":
			payer, err := models.ParseParty(strings.ToLower(ff.payer))
			if err != nil {
				bad = err
				return
			}
			s.SetPayer(payer)
		}
	})
	if bad != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", bad)
		return subcommands.ExitUsageError
	}
	return subcommands.ExitSuccess
}

type addCmd struct {
	fields fieldFlags
}

func (*addCmd) Name() string     { return "add" }
func (*addCmd) Synopsis() string { return "record a new expense" }
func (*addCmd) Usage() string {
	return `ledger add -name <name> -amount <amount> [-kind shared|individual] [-payer a|b]

  Records an expense owned by the signed-in identity.
`
}

func (c *addCmd) SetFlags(f *flag.FlagSet) {
	c.fields.register(f, true)
}

func (c *addCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, status := openSignedIn(ctx)
	if a == nil {
		return status
	}
	defer a.Close()

	// Defaults are not visited, so seed them explicitly.
	kind, err := models.ParseKind(c.fields.kind)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	payer, err := models.ParseParty(strings.ToLower(c.fields.payer))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	a.Editor.SetKind(kind)
	a.Editor.SetPayer(payer)
	if status := c.fields.apply(f, a.Editor); status != subcommands.ExitSuccess {
		return status
	}

	draft := a.Editor.Draft()
	if err := a.Editor.Commit(ctx); err != nil {
		return fail("adding expense", err)
	}
	fmt.Printf("Added %s.\n", draft.Name)
	printSettlement(a)
	return subcommands.ExitSuccess
}

type editCmd struct {
	fields fieldFlags
}

func (*editCmd) Name() string     { return "edit" }
func (*editCmd) Synopsis() string { return "change an existing expense" }
func (*editCmd) Usage() string {
	return `ledger edit [-name <name>] [-amount <amount>] [-kind shared|individual] [-payer a|b] <id>

  Replaces the given fields of an expense. Fields not given keep their value.
`
}

func (c *editCmd) SetFlags(f *flag.FlagSet) {
	c.fields.register(f, false)
}

func (c *editCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "edit takes exactly one expense id")
		return subcommands.ExitUsageError
	}
	a, status := openSignedIn(ctx)
	if a == nil {
		return status
	}
	defer a.Close()

	snap, err := a.Cache.Refresh(ctx)
	if err != nil {
		return fail("loading ledger", err)
	}
	e, ok := snap.Find(f.Arg(0))
	if !ok {
		fmt.Fprintf(os.Stderr, "No expense with id %s\n", f.Arg(0))
		return subcommands.ExitFailure
	}

	a.Editor.BeginEdit(e)
	if status := c.fields.apply(f, a.Editor); status != subcommands.ExitSuccess {
		a.Editor.Cancel()
		return status
	}
	if err := a.Editor.Commit(ctx); err != nil {
		return fail("updating expense", err)
	}
	fmt.Printf("Updated %s.\n", e.ID)
	printSettlement(a)
	return subcommands.ExitSuccess
}

type deleteCmd struct{}

func (*deleteCmd) Name() string     { return "delete" }
func (*deleteCmd) Synopsis() string { return "remove an expense" }
func (*deleteCmd) Usage() string {
	return `ledger delete <id>

  Removes one expense. Removing an id that does not exist succeeds.
`
}

func (*deleteCmd) SetFlags(*flag.FlagSet) {}

func (*deleteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "delete takes exactly one expense id")
		return subcommands.ExitUsageError
	}
	a, status := openSignedIn(ctx)
	if a == nil {
		return status
	}
	defer a.Close()

	if err := a.Editor.Delete(ctx, f.Arg(0)); err != nil {
		return fail("deleting expense", err)
	}
	fmt.Printf("Deleted %s.\n", f.Arg(0))
	return subcommands.ExitSuccess
}

type clearCmd struct {
	yes bool
}

func (*clearCmd) Name() string     { return "clear" }
func (*clearCmd) Synopsis() string { return "remove every expense" }
func (*clearCmd) Usage() string {
	return `ledger clear -yes

  Empties the ledger for both parties.
`
}

func (c *clearCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.yes, "yes", false, "Confirm that every expense should be removed.")
}

func (c *clearCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !c.yes {
		fmt.Fprintln(os.Stderr, "clear removes every expense of both parties; pass -yes to confirm")
		return subcommands.ExitUsageError
	}
	a, status := openSignedIn(ctx)
	if a == nil {
		return status
	}
	defer a.Close()

	if err := a.Editor.ClearAll(ctx); err != nil {
		return fail("clearing ledger", err)
	}
	fmt.Println("Ledger cleared.")
	return subcommands.ExitSuccess
}

type watchCmd struct{}

func (*watchCmd) Name() string     { return "watch" }
func (*watchCmd) Synopsis() string { return "follow the ledger live" }
func (*watchCmd) Usage() string {
	return `ledger watch

  Prints the balance every time either party changes the ledger, until
  interrupted.
`
}

func (*watchCmd) SetFlags(*flag.FlagSet) {}

func (*watchCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, status := openSignedIn(ctx)
	if a == nil {
		return status
	}
	defer a.Close()

	updates := make(chan cache.Snapshot, 1)
	cancel := a.Cache.OnUpdate(func(s cache.Snapshot) {
		// Only the newest snapshot matters.
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- s:
		default:
		}
	})
	defer cancel()

	snap, err := a.Cache.Refresh(ctx)
	if err != nil {
		return fail("loading ledger", err)
	}
	printMarkdown(a.Report.SummaryMarkdown(snap.Expenses))

	for {
		select {
		case <-ctx.Done():
			return subcommands.ExitSuccess
		case snap := <-updates:
			printMarkdown(a.Report.SummaryMarkdown(snap.Expenses))
		}
	}
}

func printSettlement(a *app.App) {
	fmt.Println(a.Report.Settlement(calculator.Settle(a.Cache.Snapshot().Balance())))
}
