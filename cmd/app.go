// Package cmd implements the tlx command line: recording tax lots, selling
// them, and finding losses worth harvesting.
package cmd

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/etnz/taxlot"
	"github.com/etnz/taxlot/eodhd"
	"github.com/etnz/taxlot/rates"
	"github.com/etnz/taxlot/store"
	"github.com/google/subcommands"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Register the subcommands.
// A main package will call Register() to allow subcommands, and Execute() on the user-selected one.
func Register(c *subcommands.Commander) {
	c.Register(&accountCmd{}, "ledger")
	c.Register(&buyCmd{}, "ledger")
	c.Register(&sellCmd{}, "ledger")
	c.Register(&lotsCmd{}, "ledger")

	c.Register(&previewCmd{}, "analysis")
	c.Register(&scanCmd{}, "analysis")
	c.Register(&safeDateCmd{}, "analysis")
	c.Register(&findingsCmd{}, "analysis")
}

// as a CLI application, it has a very short lived lifecycle, so it is ok to use global variables.

var dbFlag = flag.String("db", "", "Path to the SQLite ledger. If missing it will read the environment variable \""+EnvDB+"\", then default to taxlot.db.")
var eodhdFlag = flag.String("eodhd-api-key", "", "EODHD API key to use for fetching prices from EODHD.com.\n If missing it will read the environment variable \""+EnvEODHDAPIKey+"\". You can get one at https://eodhd.com/")

// app is what a command needs to run: the configuration, the ledger and the engine over it.
type app struct {
	cfg    Config
	log    zerolog.Logger
	store  *store.Store
	engine *taxlot.Engine
}

// openApp loads the configuration and opens the ledger.
// quotes are the prices given on the command line, they take precedence over EODHD.
func openApp(quotes taxlot.Quotes, opts ...taxlot.EngineOption) (*app, error) {
	// .env is optional
	_ = godotenv.Load()
	cfg, err := LoadConfig(os.Getenv)
	if err != nil {
		return nil, err
	}
	if *dbFlag != "" {
		cfg.DBPath = *dbFlag
	}
	if *eodhdFlag != "" {
		cfg.EODHDAPIKey = *eodhdFlag
	}

	log := newLogger(os.Stderr, cfg.LogLevel)
	if !rates.KnownState(cfg.Profile.State) {
		log.Warn().Str("state", cfg.Profile.State).Msg("unknown state, state taxes are ignored")
	}

	s, err := store.Open(cfg.DBPath, log)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:    cfg,
		log:    log,
		store:  s,
		engine: taxlot.NewEngine(s, priceLookup(cfg, quotes, log), rates.Table2024{}, log, opts...),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error().Err(err).Msg("cannot close the ledger")
	}
}

// priceLookup chains the command line quotes and EODHD, behind a cache.
func priceLookup(cfg Config, quotes taxlot.Quotes, log zerolog.Logger) taxlot.PriceLookup {
	chain := taxlot.Chain{quotes}
	if cfg.EODHDAPIKey != "" {
		opts := []eodhd.Option{eodhd.WithLogger(log)}
		if cfg.CacheDir != "" {
			opts = append(opts, eodhd.WithDailyCache(cfg.CacheDir))
		}
		chain = append(chain, eodhd.New(cfg.EODHDAPIKey, opts...))
	} else {
		log.Debug().Msg("no EODHD API key, only command line prices are used")
	}
	return taxlot.NewPriceCache(chain, cfg.PriceTTL)
}

// newLogger returns a console logger at the given level, info if the level is unknown.
func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// exitStatus reports bad input as a usage error, anything else as a failure.
func exitStatus(err error) subcommands.ExitStatus {
	if errors.Is(err, taxlot.ErrValidation) {
		return subcommands.ExitUsageError
	}
	return subcommands.ExitFailure
}

// printMarkdown renders md for the terminal, or prints it raw if it cannot.
func printMarkdown(md string) {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(120))
	if err == nil {
		var out string
		if out, err = r.Render(md); err == nil {
			fmt.Print(out)
			return
		}
	}
	fmt.Print(md)
}

func printJSON(v any) subcommands.ExitStatus {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
