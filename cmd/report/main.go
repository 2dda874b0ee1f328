// Package main prints the current opportunity ranking from the lot store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"lotscout/internal/config"
	"lotscout/internal/domain"
	"lotscout/internal/storage"
	pgstore "lotscout/internal/storage/postgres"
)

func main() {
	limit := flag.Int("limit", 25, "Maximum lots to print")
	minScore := flag.Float64("min-score", 0, "Minimum opportunity score")
	locations := flag.String("locations", "", "Comma-separated pickup locations")
	includeClosed := flag.Bool("include-closed", false, "Include closed lots")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Storage.PostgresDSN == "" {
		fmt.Fprintln(os.Stderr, "POSTGRES_DSN is required: the report reads the persisted catalog")
		os.Exit(1)
	}

	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to postgres: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	filter := storage.Filter{
		MinScore: *minScore,
		Limit:    *limit,
	}
	if !*includeClosed {
		filter.Open = storage.OpenOnly()
	}
	if *locations != "" {
		filter.Locations = strings.Split(*locations, ",")
	}

	lots, err := pgstore.NewLotStore(pool).Query(ctx, filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query error: %v\n", err)
		os.Exit(1)
	}

	printRanking(lots)
}

func printRanking(lots []*domain.Lot) {
	if len(lots) == 0 {
		fmt.Println("No lots matched.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tQUALITY\tLOT\tTITLE\tRETAIL\tBID\tBIDDERS\tCLOSES\tLOCATION")
	for _, lot := range lots {
		closes := "-"
		if !lot.ClosesAt.IsZero() {
			closes = lot.ClosesAt.Local().Format("Jan 2 15:04")
		}
		title := lot.Title
		if len(title) > 48 {
			title = title[:45] + "..."
		}
		fmt.Fprintf(w, "%.3f\t%.0f\t%s\t%s\t$%.2f\t$%.2f\t%d\t%s\t%s\n",
			lot.OpportunityScore, lot.QualityScore, lot.ID, title,
			lot.RetailPrice, lot.CurrentBid, lot.UniqueBidders, closes, lot.Location)
	}
	_ = w.Flush()
}
