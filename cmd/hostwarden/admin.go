package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/hostwarden/hostwarden/internal/adapter/postgres"
	"github.com/hostwarden/hostwarden/internal/config"
	"github.com/hostwarden/hostwarden/internal/domain/principal"
	"github.com/hostwarden/hostwarden/internal/domain/tenant"
	"github.com/hostwarden/hostwarden/internal/service"
)

// runAdmin dispatches admin subcommands. These talk to the database
// directly and bypass the access gate: they exist to bootstrap the first
// operator and to recover a locked-out deployment.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "bootstrap":
		return runAdminBootstrap(args[1:])
	case "list-principals":
		return runAdminListPrincipals(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: hostwarden admin <command> [options]

Commands:
  migrate           Apply or roll back database migrations
  bootstrap         Create the root tenant and the first global operator
  list-principals   List the principals of a tenant
  help              Show this help message

Examples:
  hostwarden admin migrate
  hostwarden admin migrate --rollback 1
  hostwarden admin bootstrap --name "Platform Admin"
  hostwarden admin list-principals --tenant root
`)
}

func loadAdminStore() (*postgres.Store, *config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	pool, err := postgres.NewPool(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return postgres.NewStore(pool), cfg, pool.Close, nil
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	rollback := fs.Int("rollback", 0, "number of migrations to roll back (0 = apply all pending)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	if *rollback > 0 {
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *rollback); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", *rollback)
		return nil
	}
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	version, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Migrations applied, version %d\n", version)
	return nil
}

// runAdminBootstrap creates the root tenant (if absent) and a global
// operator principal under it, printing the operator's API key once.
func runAdminBootstrap(args []string) error {
	fs := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	name := fs.String("name", "Platform Admin", "operator display name")
	withPassword := fs.Bool("password", false, "also set an interactive password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, _, cleanup, err := loadAdminStore()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := store.GetTenant(ctx, tenant.RootID); err != nil {
		root := &tenant.Tenant{
			ID:        tenant.RootID,
			Name:      "Root",
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := store.CreateTenant(ctx, root); err != nil {
			return fmt.Errorf("create root tenant: %w", err)
		}
		fmt.Fprintln(os.Stderr, "Root tenant created")
	}

	auth := service.NewAuthService(store, nil)
	key, hash, prefix, err := auth.MintKey()
	if err != nil {
		return err
	}

	p := &principal.Principal{
		ID:        uuid.NewString(),
		TenantID:  tenant.RootID,
		Name:      *name,
		KeyHash:   hash,
		Operator:  &principal.Operator{Scope: principal.ScopeGlobal},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if *withPassword {
		pw, err := promptPassword("Password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		confirm, err := promptPassword("Confirm password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if pw != confirm {
			return fmt.Errorf("passwords do not match")
		}
		p.PasswordHash, err = auth.HashPassword(pw)
		if err != nil {
			return err
		}
	}
	if err := store.CreatePrincipal(ctx, p, prefix); err != nil {
		return fmt.Errorf("create operator: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Operator created: %s (id=%s)\n", p.Name, p.ID)
	fmt.Fprintf(os.Stderr, "API key (shown once): %s\n", key)
	return nil
}

func runAdminListPrincipals(args []string) error {
	fs := flag.NewFlagSet("list-principals", flag.ContinueOnError)
	tenantID := fs.String("tenant", tenant.RootID, "tenant id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, _, cleanup, err := loadAdminStore()
	if err != nil {
		return err
	}
	defer cleanup()

	ps, err := store.ListPrincipals(context.Background(), *tenantID)
	if err != nil {
		return fmt.Errorf("list principals: %w", err)
	}
	if len(ps) == 0 {
		fmt.Println("No principals found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tTENANT\tOPERATOR\tSUSPENDED")
	for i := range ps {
		scope := "-"
		if ps[i].Operator != nil {
			scope = string(ps[i].Operator.Scope)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n",
			ps[i].ID, ps[i].Name, ps[i].TenantID, scope, ps[i].Suspended())
	}
	return w.Flush()
}

// promptPassword reads a password from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
