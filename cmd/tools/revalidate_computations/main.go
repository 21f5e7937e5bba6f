package main

import (
	"context"
	"flag"
	"log"
	"os"

	"wasmscan/internal/compute"
	"wasmscan/internal/repository"
)

// Batch-extends the validity interval of the latest stored computation
// per identity up to the current chain tip, so range requests after a
// quiet period start from warm memo rows.
func main() {
	var limit int
	flag.IntVar(&limit, "limit", 0, "max identities to process (0 = all)")
	flag.Parse()

	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		log.Fatal("DB_URL is required")
	}

	repo, err := repository.NewRepository(dbURL)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()

	state, err := repo.GetState(ctx)
	if err != nil {
		log.Fatalf("read state: %v", err)
	}
	if state == nil {
		log.Fatal("no chain state; is the exporter running?")
	}
	tip := state.LatestBlockHeight

	rows, err := repo.ListLatestComputations(ctx, limit)
	if err != nil {
		log.Fatalf("list computations: %v", err)
	}

	extended, stopped := 0, 0
	for _, c := range rows {
		ok, err := compute.UpdateValidityUpToBlockHeight(ctx, repo, repo, c, tip)
		if err != nil {
			log.Printf("computation %d (%s %s): %v", c.ID, c.Formula, c.TargetAddress, err)
			continue
		}
		if ok {
			extended++
		} else {
			stopped++
		}
	}
	log.Printf("processed %d identities at tip %d: %d extended to tip, %d stopped at a dependency change",
		len(rows), tip, extended, stopped)
}
