// Command migrate manages the gateway schema. Migrations compiled into the
// binary are used unless -dir points at a directory on disk.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/crmgateway/backend/internal/infrastructure/config"
	"github.com/crmgateway/backend/internal/infrastructure/logger"
	"github.com/crmgateway/backend/internal/infrastructure/migration"
	"github.com/crmgateway/backend/migrations"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const pingTimeout = 10 * time.Second

var errUsage = errors.New("usage")

// invocation is what every command sees
type invocation struct {
	args []string
	dir  string
	log  *zap.Logger
	m    *migration.Migrator
}

func (inv *invocation) source() fs.FS {
	if inv.dir == "" {
		return migrations.FS
	}
	return os.DirFS(inv.dir)
}

func (inv *invocation) arg(i int, what string) (string, error) {
	if len(inv.args) <= i {
		return "", fmt.Errorf("%w: %s required", errUsage, what)
	}
	return inv.args[i], nil
}

type command struct {
	usage   string
	offline bool
	run     func(*invocation) error
}

var commands = map[string]command{
	"up":      {usage: "up                    apply all pending migrations", run: func(inv *invocation) error { return inv.m.Up() }},
	"down":    {usage: "down                  roll back every migration", run: func(inv *invocation) error { return inv.m.Down() }},
	"step":    {usage: "step <n>              apply n migrations, negative rolls back", run: runStep},
	"goto":    {usage: "goto <version>        migrate up or down to version", run: runGoto},
	"version": {usage: "version               print the applied version", run: runVersion},
	"verify": {usage: "verify                check the gateway tables exist and the schema is clean", run: func(inv *invocation) error {
		if err := inv.m.VerifySchema(context.Background()); err != nil {
			return err
		}
		inv.log.Info("Schema verified", zap.Strings("tables", migration.RequiredTables))
		return nil
	}},
	"force":  {usage: "force <version>       set the version without running anything", run: runForce},
	"drop":   {usage: "drop -confirm         drop every object in the database", run: runDrop},
	"create": {usage: "create <name> [desc]  write a new up/down pair into -dir", offline: true, run: runCreate},
	"list":   {usage: "list                  list migrations and check up/down pairs", offline: true, run: runList},
}

func main() {
	dir := flag.String("dir", "", "read migrations from this directory instead of the embedded set")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		os.Exit(2)
	}

	log, err := logger.New(&logger.Config{Level: *logLevel, Format: "console", Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	inv := &invocation{args: args[1:], dir: *dir, log: log}
	err = execute(cmd, inv)
	_ = logger.Sync(log)
	switch {
	case errors.Is(err, errUsage):
		fmt.Fprintf(os.Stderr, "%v\n  %s\n", err, cmd.usage)
		os.Exit(2)
	case err != nil:
		log.Error("Migration command failed", zap.String("command", args[0]), zap.Error(err))
		os.Exit(1)
	}
}

func execute(cmd command, inv *invocation) error {
	if cmd.offline {
		return cmd.run(inv)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping %s:%d: %w", cfg.Database.Host, cfg.Database.Port, err)
	}

	// the migrator owns db from here and closes it
	if inv.dir == "" {
		inv.m, err = migration.NewFromFS(db, migrations.FS, inv.log)
	} else {
		inv.m, err = migration.New(db, inv.dir, inv.log)
	}
	if err != nil {
		_ = db.Close()
		return err
	}
	defer inv.m.Close()

	return cmd.run(inv)
}

func runStep(inv *invocation) error {
	raw, err := inv.arg(0, "step count")
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n == 0 {
		return fmt.Errorf("%w: step count must be a non-zero integer, got %q", errUsage, raw)
	}
	return inv.m.Steps(n)
}

func runGoto(inv *invocation) error {
	raw, err := inv.arg(0, "version")
	if err != nil {
		return err
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return fmt.Errorf("%w: bad version %q", errUsage, raw)
	}
	return inv.m.GoTo(uint(v))
}

func runVersion(inv *invocation) error {
	v, dirty, err := inv.m.Version()
	if err != nil {
		return err
	}
	if v == 0 {
		inv.log.Info("No migrations applied")
		return nil
	}
	inv.log.Info("Current migration version", zap.Uint("version", v), zap.Bool("dirty", dirty))
	return nil
}

func runForce(inv *invocation) error {
	raw, err := inv.arg(0, "version")
	if err != nil {
		return err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%w: bad version %q", errUsage, raw)
	}
	inv.log.Warn("Forcing migration version", zap.Int("version", v))
	return inv.m.Force(v)
}

func runDrop(inv *invocation) error {
	if !slices.Contains(inv.args, "-confirm") && !slices.Contains(inv.args, "--confirm") {
		return fmt.Errorf("%w: drop needs -confirm", errUsage)
	}
	inv.log.Warn("Dropping all database objects")
	return inv.m.Drop()
}

func runCreate(inv *invocation) error {
	if inv.dir == "" {
		inv.dir = "migrations"
	}
	name, err := inv.arg(0, "migration name")
	if err != nil {
		return err
	}
	desc, _ := inv.arg(1, "description")

	mf, err := migration.CreateMigration(inv.dir, name, desc)
	if err != nil {
		return err
	}
	inv.log.Info("Migration created",
		zap.String("version", mf.Version),
		zap.String("up", mf.UpPath),
		zap.String("down", mf.DownPath),
	)
	return nil
}

func runList(inv *invocation) error {
	entries, err := migration.ListMigrations(inv.source())
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Println(e)
	}
	inv.log.Info("Migrations listed", zap.Int("count", len(entries)))
	return migration.CheckPairs(entries)
}

func usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)

	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "usage: migrate [flags] <command> [args]\n\ncommands:")
	for _, name := range names {
		fmt.Fprintln(out, "  "+commands[name].usage)
	}
	fmt.Fprintln(out, "\nflags:")
	flag.PrintDefaults()
	fmt.Fprintln(out, "\nThe database is taken from CRMGW_DATABASE_* variables or config.yaml.")
}
