package main

import (
	"context"
	"flag"
	"log"
	"os"

	"wasmscan/internal/repository"
)

// Removes computation rows whose validity interval ended below a cutoff
// height. Useful after large reindexes, when old memo rows can no longer
// seed range reuse.
func main() {
	var (
		below  uint64
		dryRun bool
	)
	flag.Uint64Var(&below, "below", 0, "delete computations with latest_block_height_valid below this height")
	flag.BoolVar(&dryRun, "dry-run", false, "count matching rows without deleting")
	flag.Parse()

	if below == 0 {
		log.Fatal("-below is required")
	}

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
	if dryRun {
		rows, err := repo.Query(ctx,
			`SELECT COUNT(*) AS n FROM computations WHERE latest_block_height_valid < $1`,
			[]any{below})
		if err != nil {
			log.Fatalf("count: %v", err)
		}
		log.Printf("dry run: %v computation(s) would be deleted", rows[0]["n"])
		return
	}

	n, err := repo.PruneComputationsBelow(ctx, below)
	if err != nil {
		log.Fatalf("prune: %v", err)
	}
	log.Printf("deleted %d computation(s) with validity below %d", n, below)
}
