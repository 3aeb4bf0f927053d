package cli

import (
	"context"
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/ratchetdb/ratchet/internal/config"
	"github.com/ratchetdb/ratchet/internal/engine"
	"github.com/rs/zerolog"
)

// App carries everything a command needs to run. The orchestrator is wired
// by main before commands execute.
type App struct {
	Ctx          context.Context
	Config       *config.Config
	Orchestrator *engine.Orchestrator
	Log          zerolog.Logger
	ServeFn      func(app *App) error
}

// CLI is the command line interface of ratchet.
type CLI struct {
	Init   Init   `kong:"cmd,help='Create the migration tracking tables.'"`
	Up     Up     `kong:"cmd,help='Apply all pending migrations.'"`
	Down   Down   `kong:"cmd,help='Roll back applied migrations to a target version.'"`
	Status Status `kong:"cmd,help='Show applied and pending migrations.'"`
	DryRun DryRun `kong:"cmd,name='dry-run',help='Simulate pending migrations and roll everything back.'"`
	Serve  Serve  `kong:"cmd,help='Start the read-only status API server.'"`

	ConfigFile string `kong:"default='',help='Path to the ratchet configuration file. Searched for when unset.'"`

	kong *kong.Kong
	kctx *kong.Context
}

// New initializes the command-line interface.
func New() (*CLI, error) {
	c := &CLI{}
	parser, err := kong.New(c,
		kong.Name("ratchet"),
		kong.Description("Governed schema migrations with hooks, dry runs, and batched backfills."),
		kong.UsageOnError(),
		kong.DefaultEnvars("RATCHET"),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating the kong parser: %w", err)
	}
	c.kong = parser
	return c, nil
}

// Parse the given command line arguments. Must be called before Execute.
func (c *CLI) Parse(args []string) error {
	kctx, err := c.kong.Parse(args)
	if err != nil {
		return fmt.Errorf("failed parsing CLI arguments: %w", err)
	}
	c.kctx = kctx
	return nil
}

// Execute runs the parsed command.
func (c *CLI) Execute(app *App) error {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	return c.kctx.Run(app)
}
