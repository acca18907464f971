package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"mirrorbot/internal/catalog"
	"mirrorbot/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check config, catalog, credentials, and port before serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("mirrorbot doctor v%s\n\n", version)

			var passed, warned, failed int
			pass := func(check, detail string) { printPass(check, detail); passed++ }
			warn := func(check, detail string) { printWarn(check, detail); warned++ }
			fail := func(check, detail string) { printFail(check, detail); failed++ }

			cfg, err := loadConfig()
			if err != nil {
				fail("Config", err.Error())
				fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
				return fmt.Errorf("config invalid")
			}
			pass("Config", resolveConfigPath())

			cat := catalog.Load(catalog.Config{Path: cfg.Catalog.Path, Sheet: cfg.Catalog.Sheet, Logger: logger})
			switch {
			case !cat.Available():
				warn("Catalog", fmt.Sprintf("%s: %v (replies use the placeholder)", cfg.Catalog.Path, cat.Err))
			case len(cat.Entries) == 0:
				warn("Catalog", "source has no rows")
			default:
				pass("Catalog", fmt.Sprintf("%d items from %s", len(cat.Entries), cfg.Catalog.Path))
			}

			for label, b := range map[string]config.BackendConfig{"text": cfg.Backends.Text, "vision": cfg.Backends.Vision} {
				pc := cfg.Providers[b.Provider]
				switch {
				case !pc.Enabled:
					warn("Backend: "+label, fmt.Sprintf("provider %s disabled (fallback replies only)", b.Provider))
				case pc.APIKey == "":
					warn("Backend: "+label, fmt.Sprintf("provider %s has no API key (fallback replies only)", b.Provider))
				default:
					pass("Backend: "+label, fmt.Sprintf("%s / %s", b.Provider, b.Model))
				}
			}

			if cfg.Media.BasicAuthUser == "" {
				warn("Media auth", "no Twilio credentials; protected media URLs will fail")
			} else {
				pass("Media auth", "configured")
			}

			if cfg.Journal.Enabled {
				if err := checkDatabase(cfg.Journal.DBPath); err != nil {
					fail("Journal", err.Error())
				} else {
					pass("Journal", cfg.Journal.DBPath)
				}
			}

			if err := checkPort(cfg.Server.Addr()); err != nil {
				warn("Port", fmt.Sprintf("%s may be in use: %v", cfg.Server.Addr(), err))
			} else {
				pass("Port", cfg.Server.Addr()+" available")
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_check (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_check")
	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}

func printPass(check, detail string) { fmt.Printf("  [PASS] %-18s %s\n", check, detail) }
func printWarn(check, detail string) { fmt.Printf("  [WARN] %-18s %s\n", check, detail) }
func printFail(check, detail string) { fmt.Printf("  [FAIL] %-18s %s\n", check, detail) }
