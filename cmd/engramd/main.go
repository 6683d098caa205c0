package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/bowerhall/engram"
	"github.com/bowerhall/engram/internal/config"
	"github.com/bowerhall/engram/internal/embedder"
	"github.com/bowerhall/engram/internal/logger"
	"github.com/bowerhall/engram/internal/qcache"
	"github.com/bowerhall/engram/internal/storage"
)

func init() {
	godotenv.Load()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}

	embed, err := embedder.New(embedder.Config{
		Provider: cfg.Embedder.Provider,
		BaseURL:  cfg.Embedder.BaseURL,
		Model:    cfg.Embedder.Model,
	})
	if err != nil {
		logger.Fatal("failed to create embedder", "error", err)
	}

	store, err := engram.Open(cfg.DBPath,
		engram.WithDimensions(cfg.Dimensions),
		engram.WithLogger(logger.Logger()),
		engram.WithEmbedder(embed),
	)
	if err != nil {
		logger.Fatal("failed to open store", "path", cfg.DBPath, "error", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	maintainer, err := engram.NewMaintainer(store, engram.MaintenanceConfig{
		Schedule:    cfg.Maintenance.Schedule,
		Retention:   cfg.Maintenance.Retention,
		DecayAfter:  cfg.Maintenance.DecayAfter,
		DecayFactor: cfg.Maintenance.DecayFactor,
		BatchSize:   cfg.Maintenance.BatchSize,
	})
	if err != nil {
		logger.Fatal("failed to create maintainer", "error", err)
	}

	if cfg.Snapshot.Enabled {
		snapshots, err := storage.NewClient(storage.Config{
			Endpoint:  cfg.Snapshot.Endpoint,
			AccessKey: cfg.Snapshot.AccessKey,
			SecretKey: cfg.Snapshot.SecretKey,
			UseSSL:    cfg.Snapshot.UseSSL,
			Bucket:    cfg.Snapshot.Bucket,
		})
		if err != nil {
			logger.Fatal("failed to create snapshot client", "error", err)
		}
		if err := snapshots.Init(ctx); err != nil {
			logger.Fatal("failed to init snapshot bucket", "error", err)
		}

		maintainer.AfterPass = func(ctx context.Context) {
			if err := snapshots.Backup(ctx, store); err != nil {
				logger.Error("snapshot upload failed", "error", err)
			}
		}
	}

	go maintainer.Run(ctx)
	logger.Info("engramd started", "db", cfg.DBPath, "dimensions", cfg.Dimensions,
		"schedule", cfg.Maintenance.Schedule)

	var recall *qcache.Cache
	if cfg.Cache.TTL > 0 {
		if recall, err = qcache.New(store, cfg.Cache.TTL, cfg.Cache.MaxCost); err != nil {
			logger.Fatal("failed to create query cache", "error", err)
		}
		defer recall.Close()
	}

	repl(ctx, store, embed, recall, maintainer)
}

const replUsage = `commands:
  remember <owner> <cat1,cat2> <text>   store a memory
  recall <owner> <query>                retrieve memories
  forget <owner> <id>                   soft-delete a memory
  stats <owner>                         count active memories
  maintain                              run a maintenance pass now
  quit`

func repl(ctx context.Context, store *engram.Store, embed engram.Embedder, recall *qcache.Cache, maintainer *engram.Maintainer) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println(replUsage)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		if ctx.Err() != nil {
			return
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "exit":
			return

		case "remember":
			if len(fields) < 4 {
				fmt.Println("usage: remember <owner> <cat1,cat2> <text>")
				continue
			}
			owner := fields[1]
			cats := strings.Split(fields[2], ",")
			content := strings.Join(fields[3:], " ")

			result, err := store.Remember(ctx, owner, content, 0.8, engram.WriteOptions{
				Categories: cats,
			})
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Printf("%s %s (version %d)\n", result.Outcome, result.Record.ID, result.Record.Version)
			if result.Outcome == engram.OutcomeMerged {
				fmt.Printf("  supersedes %s\n", result.Superseded.ID)
			}

		case "recall":
			if len(fields) < 3 {
				fmt.Println("usage: recall <owner> <query>")
				continue
			}
			owner := fields[1]
			query := strings.Join(fields[2:], " ")

			if embed == nil {
				fmt.Println("error: no embedder configured")
				continue
			}
			vector, err := embed.Embed(ctx, query)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}

			opts := engram.SearchOptions{Limit: 5}
			var result *engram.SearchResult
			if recall != nil {
				result, err = recall.Search(ctx, owner, vector, opts)
			} else {
				result, err = store.Search(ctx, owner, vector, opts)
			}
			if err != nil {
				fmt.Println("error:", err)
				continue
			}

			if result.Degraded {
				fmt.Println("(degraded: exact scan)")
			}
			for _, r := range result.Records {
				fmt.Printf("  %.3f [%s] %s\n", r.Similarity,
					strings.Join(r.Record.Categories, ","), r.Record.Content)
			}
			if len(result.Records) == 0 {
				fmt.Println("  no matches")
			}

		case "forget":
			if len(fields) != 3 {
				fmt.Println("usage: forget <owner> <id>")
				continue
			}
			ok, err := store.SoftDelete(ctx, fields[1], fields[2])
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			if ok {
				fmt.Println("deleted")
			} else {
				fmt.Println("not found or already deleted")
			}

		case "stats":
			if len(fields) != 2 {
				fmt.Println("usage: stats <owner>")
				continue
			}
			n, err := store.CountActive(ctx, fields[1])
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Printf("%d active memories\n", n)

		case "maintain":
			if err := maintainer.RunPass(ctx); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("maintenance pass complete")

		default:
			fmt.Println(replUsage)
		}
	}
}
