package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
)

// Init creates the tracking tables in the target database.
type Init struct{}

func (c *Init) Run(app *App) error {
	if err := app.Orchestrator.Initialize(app.Ctx); err != nil {
		return fmt.Errorf("failed to initialize tracking tables: %w", err)
	}
	fmt.Println("tracking tables ready")
	return nil
}

// Up applies every pending migration in version order.
type Up struct{}

func (c *Up) Run(app *App) error {
	applied, err := app.Orchestrator.Up(app.Ctx)
	for _, version := range applied {
		fmt.Printf("applied %s\n", version)
	}
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Println("nothing to apply")
	}
	return nil
}

// Down rolls back applied migrations until the database is at the target
// version. An empty target rolls back everything.
type Down struct {
	Target string `kong:"default='',help='Version to stop at; it stays applied.'"`
}

func (c *Down) Run(app *App) error {
	reversed, err := app.Orchestrator.DownTo(app.Ctx, c.Target)
	for _, version := range reversed {
		fmt.Printf("rolled back %s\n", version)
	}
	if err != nil {
		return err
	}
	if len(reversed) == 0 {
		fmt.Println("nothing to roll back")
	}
	return nil
}

// Status prints the applied and pending migrations.
type Status struct{}

func (c *Status) Run(app *App) error {
	status, err := app.Orchestrator.Status(app.Ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATE\tAPPLIED AT")
	for _, m := range status.Migrations {
		state, appliedAt := "pending", ""
		if m.Applied {
			state = "applied"
			appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Version, m.Name, state, appliedAt)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d applied, %d pending, current version %q\n",
		status.Applied, status.Pending, status.CurrentVersion)
	return nil
}

// DryRun simulates every pending migration in a transaction that is always
// rolled back, then prints per-migration results.
type DryRun struct{}

func (c *DryRun) Run(app *App) error {
	results, err := app.Orchestrator.DryRun(app.Ctx)
	if err != nil {
		return err
	}

	for _, r := range results {
		verdict := "ok"
		if !r.Success {
			verdict = "FAILED"
		}
		fmt.Printf("%s %s: %s, %d rows, %s measured, ~%s estimated (%d%% confidence)\n",
			r.Version, r.Name, verdict, r.RowsAffected,
			r.ExecutionTime, r.EstimatedProductionTime, r.ConfidencePercent)
		if len(r.LockedTables) > 0 {
			fmt.Printf("  locks: %v\n", r.LockedTables)
		}
		for _, warning := range r.Warnings {
			fmt.Printf("  warning: %s\n", warning)
		}
	}
	if len(results) == 0 {
		fmt.Println("nothing to simulate")
	}
	return nil
}

// Serve starts the read-only HTTP status API.
type Serve struct {
	Port int `kong:"default='0',help='Listen port; overrides the configuration file.'"`
}

func (c *Serve) Run(app *App) error {
	if c.Port != 0 {
		app.Config.HTTP.Port = c.Port
	}
	return app.ServeFn(app)
}
