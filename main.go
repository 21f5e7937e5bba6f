package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"sync"
	"syscall"

	"wasmscan/internal/api"
	"wasmscan/internal/config"
	"wasmscan/internal/eventbus"
	"wasmscan/internal/formulas"
	"wasmscan/internal/repository"
	"wasmscan/internal/state"
	"wasmscan/internal/webhooks"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "wasmscan.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Println("Initializing wasmscan...")
	log.Printf("DB: %s", redactDatabaseURL(cfg.DatabaseURL))
	log.Printf("API Port: %s", cfg.APIPort)

	repo, err := repository.NewRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer repo.Close()

	if os.Getenv("SKIP_MIGRATION") == "true" {
		log.Println("Database migration SKIPPED (SKIP_MIGRATION=true)")
	} else {
		log.Println("Applying database schema...")
		if err := repo.Migrate(cfg.SchemaPath); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
	}

	registry := formulas.NewRegistry()
	log.Printf("Formula catalogue: %d formulas", len(registry.List()))

	bus := eventbus.New()
	poller := state.NewPoller(repo, bus, cfg.StatePollInterval)

	apiServer := api.NewServer(cfg, repo, repo, repo, registry, poller, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()

	if cfg.Webhooks.Enabled {
		var delivery webhooks.Delivery
		if cfg.Webhooks.SvixToken != "" {
			delivery, err = webhooks.NewSvixDelivery(cfg.Webhooks.SvixToken, cfg.Webhooks.SvixURL)
			if err != nil {
				log.Fatalf("Failed to set up svix delivery: %v", err)
			}
			log.Println("Webhook delivery: svix")
		} else {
			delivery = webhooks.NewDirectDelivery()
			log.Println("Webhook delivery: direct signed POST")
		}

		monitor := webhooks.NewMonitor(repo, repo, registry, delivery, apiServer,
			cfg.CodeIDKeys, cfg.BankHistoryCodeIDKeys)
		events := make(chan eventbus.Event, 16)
		bus.Subscribe(eventbus.TypeBlockAdvance, events)

		wg.Add(1)
		go func() {
			defer wg.Done()
			monitor.Run(ctx, events)
		}()
	} else {
		log.Println("Webhook monitor is DISABLED (ENABLE_WEBHOOKS=false)")
	}

	go func() {
		log.Printf("Starting API server on :%s", cfg.APIPort)
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	apiServer.Shutdown(ctx)
	cancel()
	bus.Close()
	wg.Wait()
}

func redactDatabaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err == nil && u.Scheme != "" {
		if u.User != nil {
			user := u.User.Username()
			if user == "" {
				user = "user"
			}
			u.User = url.UserPassword(user, "****")
		}
		u.RawQuery = ""
		return u.String()
	}

	re := regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/?#]+):([^@]+)@`)
	if re.MatchString(raw) {
		return re.ReplaceAllString(raw, `$1:****@`)
	}
	re = regexp.MustCompile(`(?i)(password=)(\S+)`)
	return re.ReplaceAllString(raw, `$1****`)
}
