package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"stocktracker/internal/config"
	"stocktracker/internal/feeds"
	"stocktracker/internal/sink"
	"stocktracker/internal/storage"
	"stocktracker/internal/syncer"
)

func main() {
	cfg, err := config.Load()
	must(err)
	must(cfg.Require("MARKETPLACE_API_TOKEN", cfg.APIToken))
	must(cfg.Require("SHEETS_SPREADSHEET_ID", cfg.SpreadsheetID))

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sheets, err := sink.NewSheetsSink(ctx, cfg)
	must(err)

	o := syncer.New(cfg, db, feeds.NewClient(cfg), sheets)
	must(o.Watch(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
