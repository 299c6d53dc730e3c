package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stocktracker/internal"
	"stocktracker/internal/config"
	"stocktracker/internal/feeds"
	"stocktracker/internal/sink"
	"stocktracker/internal/storage"
	"stocktracker/internal/syncer"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	cmd := os.Args[1]
	switch cmd {
	case "sync:run":
		ctx := context.Background()
		o, err := makeOrchestrator(ctx, cfg, db)
		must(err)
		session, err := o.Run(ctx)
		must(err)
		if session.State == internal.SessionFailed {
			must(fmt.Errorf("sync session %s failed: %s", session.ID, strings.Join(session.Errors, "; ")))
		}
	case "sync:watch":
		ctx := context.Background()
		o, err := makeOrchestrator(ctx, cfg, db)
		must(err)
		must(o.Watch(ctx))
	case "export:xlsx":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		out := fs.String("out", "", "output xlsx path")
		_ = fs.Parse(os.Args[2:])
		path := strings.TrimSpace(*out)
		if path == "" {
			path = filepath.Join(cfg.OutputDir, fmt.Sprintf("stock-%s.xlsx", time.Now().Format("2006-01-02")))
		}
		rows, err := db.ListReportRows()
		must(err)
		if len(rows) == 0 {
			must(fmt.Errorf("no report rows; run sync:run first"))
		}
		must(sink.ExportRowsToXLSX(rows, path))
		fmt.Printf("exported %d rows to %s\n", len(rows), path)
	case "report:sessions":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		limit := fs.Int("limit", 20, "max sessions to show")
		_ = fs.Parse(os.Args[2:])
		sessions, err := db.ListSessions(*limit)
		must(err)
		for _, s := range sessions {
			finished := "-"
			if s.FinishedAt != nil {
				finished = s.FinishedAt.Format(time.RFC3339)
			}
			fmt.Printf("%s  %-9s  started=%s finished=%s processed=%d failed=%d duplicates=%d anomalies=%d\n",
				s.ID, s.State, s.StartedAt.Format(time.RFC3339), finished,
				s.Processed, s.Failed, s.DuplicatesSkipped, s.Anomalies)
			for _, msg := range s.Errors {
				fmt.Printf("    error: %s\n", msg)
			}
		}
	default:
		usage()
		os.Exit(1)
	}
}

func makeOrchestrator(ctx context.Context, cfg config.Config, db *storage.DB) (*syncer.Orchestrator, error) {
	if err := cfg.Require("MARKETPLACE_API_TOKEN", cfg.APIToken); err != nil {
		return nil, err
	}
	if err := cfg.Require("SHEETS_SPREADSHEET_ID", cfg.SpreadsheetID); err != nil {
		return nil, err
	}
	sheets, err := sink.NewSheetsSink(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return syncer.New(cfg, db, feeds.NewClient(cfg), sheets), nil
}

func usage() {
	fmt.Println("usage: stocktracker <command>")
	fmt.Println("commands:")
	fmt.Println("  sync:run")
	fmt.Println("  sync:watch")
	fmt.Println("  export:xlsx [--out=./out/stock.xlsx]")
	fmt.Println("  report:sessions [--limit=20]")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
