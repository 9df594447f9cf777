package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
)

// drivers maps the --driver names to the dialect and the database/sql
// driver registered for it.
var drivers = map[string]struct{ dialect, name string }{
	"postgres": {dialect.Postgres, "postgres"},
	"mysql":    {dialect.MySQL, "mysql"},
	"sqlite":   {dialect.SQLite, "sqlite"},
}

// PingResult is the outcome of a ping.
type PingResult struct {
	Driver  string `json:"driver"`
	Dialect string `json:"dialect"`
	Elapsed string `json:"elapsed"`
}

// NewPingCommand creates the ping command.
func NewPingCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		driver  string
		dsn     string
		timeout time.Duration
		debug   bool
	)
	cmd := &cobra.Command{
		Use:           "ping --driver <postgres|mysql|sqlite> --dsn <dsn>",
		Short:         "Check that a database is reachable",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPing(rootOpts, cmd, driver, dsn, timeout, debug)
		},
	}
	cmd.Flags().StringVar(&driver, "driver", "", "database driver (postgres|mysql|sqlite)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "data source name")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "ping timeout")
	cmd.Flags().BoolVar(&debug, "debug", false, "also run a query round trip and log it to stderr")
	_ = cmd.MarkFlagRequired("driver")
	_ = cmd.MarkFlagRequired("dsn")
	return cmd
}

func runPing(opts *RootOptions, cmd *cobra.Command, driver, dsn string, timeout time.Duration, debug bool) error {
	out := opts.formatter(cmd)
	d, ok := drivers[driver]
	if !ok {
		names := make([]string, 0, len(drivers))
		for name := range drivers {
			names = append(names, name)
		}
		slices.Sort(names)
		msg := fmt.Sprintf("unknown driver %q: must be one of %v", driver, names)
		_ = out.Error(CodeConnect, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}
	drv, err := sql.Open(d.dialect, d.name, dsn)
	if err != nil {
		_ = out.Error(CodeConnect, err.Error(), nil)
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer drv.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	start := time.Now()
	if err := drv.Ping(ctx); err != nil {
		_ = out.Error(CodeConnect, err.Error(), nil)
		return WrapExitError(ExitCommandError, "ping database", err)
	}
	if debug {
		if err := roundTrip(ctx, drv, out); err != nil {
			_ = out.Error(CodeConnect, err.Error(), nil)
			return WrapExitError(ExitCommandError, "query database", err)
		}
	}
	res := PingResult{Driver: driver, Dialect: drv.Dialect(), Elapsed: time.Since(start).String()}
	out.VerboseLog("ping took %s", res.Elapsed)
	if out.JSON() {
		return out.Success(res)
	}
	fmt.Fprintf(out.Writer, "✓ %s reachable (dialect %s)\n", driver, res.Dialect)
	return nil
}

// roundTrip runs SELECT 1 through the debug driver, which logs the query
// to the error writer.
func roundTrip(ctx context.Context, drv *sql.Driver, out *OutputFormatter) error {
	l := slog.New(slog.NewTextHandler(out.errWriter(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	rows := &sql.Rows{}
	if err := sql.NewDebugDriver(drv, sql.DebugWithLogger(l)).Query(ctx, "SELECT 1", []any{}, rows); err != nil {
		return err
	}
	_, ok, err := sql.ScanOne(rows, 1)
	if err == nil && !ok {
		err = fmt.Errorf("SELECT 1 returned no row")
	}
	return err
}
