package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/taxlot"
	"github.com/etnz/taxlot/renderer"
	"github.com/google/subcommands"
)

type accountCmd struct {
	id     string
	name   string
	typ    string
	asJSON bool
}

func (*accountCmd) Name() string     { return "account" }
func (*accountCmd) Synopsis() string { return "register an account, or list them" }
func (*accountCmd) Usage() string {
	return `tlx account [-id <id> -name <name> -type <type>] [-json]

  Registers an account. The type is free-form ("Brokerage", "Roth IRA", "401(k)"...),
  retirement and other tax-advantaged types are not taxable.
  Without -id, lists the registered accounts.
`
}

func (c *accountCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.id, "id", "", "Account id, used by the other commands")
	f.StringVar(&c.name, "name", "", "Display name of the account")
	f.StringVar(&c.typ, "type", "taxable", "Account type")
	f.BoolVar(&c.asJSON, "json", false, "print the accounts as JSON")
}

func (c *accountCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening ledger: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	if c.id != "" {
		acc := taxlot.Account{ID: c.id, Name: c.name, Type: taxlot.AccountType(c.typ)}
		if err := a.store.CreateAccount(ctx, acc); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating account: %v\n", err)
			return exitStatus(err)
		}
		a.log.Info().Str("account", acc.ID).Bool("taxable", acc.Type.IsTaxable()).Msg("account created")
	}

	accounts, err := a.store.Accounts(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing accounts: %v\n", err)
		return subcommands.ExitFailure
	}
	if c.asJSON {
		return printJSON(accounts)
	}
	printMarkdown(renderer.AccountsMarkdown(accounts))
	return subcommands.ExitSuccess
}
