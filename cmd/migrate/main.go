package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"lexflow.io/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("LEXFLOW_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", envOr("LEXFLOW_MIGRATIONS_DIR", "ops/migrations/sql"), "Path to SQL migrations")
		seedsPath      = flag.String("seeds", "ops/migrations/seeds", "Path to SQL seeds")
		timeout        = flag.Duration("timeout", time.Minute, "Overall deadline")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or LEXFLOW_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|pending]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewDirManager(db, *migrationsPath, *seedsPath)

	switch cmd := flag.Arg(0); cmd {
	case "up":
		var names []string
		names, err = mgr.Up(ctx)
		printNames("applied", names)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			fmt.Println("rolled back", name)
		}
	case "seed":
		var names []string
		names, err = mgr.Seed(ctx)
		printNames("seeded", names)
	case "status":
		var status []migrate.Migration
		status, err = mgr.Status(ctx)
		for _, s := range status {
			if s.Applied {
				fmt.Printf("%-40s applied %s\n", s.Name, s.AppliedAt.Format(time.RFC3339))
			} else {
				fmt.Printf("%-40s pending\n", s.Name)
			}
		}
	case "pending":
		var names []string
		names, err = mgr.Pending(ctx)
		printNames("pending", names)
	default:
		log.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

func printNames(verb string, names []string) {
	if len(names) == 0 {
		fmt.Println("nothing", verb)
		return
	}
	for _, n := range names {
		fmt.Println(verb, n)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
