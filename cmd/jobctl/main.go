// Command jobctl triggers and inspects background jobs from the shell.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ledgergate/ledgergate/internal/app"
	"github.com/ledgergate/ledgergate/jobs"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: jobctl <command> [flags]

commands:
  scan     enqueue a ledger integrity scan
  cleanup  enqueue an idempotency cleanup
  stats    print queue statistics
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "scan":
		fs := flag.NewFlagSet("scan", flag.ExitOnError)
		window := fs.Int("window-hours", 24, "scan window in hours")
		_ = fs.Parse(os.Args[2:])
		client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		if err != nil {
			fmt.Fprintln(os.Stderr, "connect queue:", err)
			os.Exit(1)
		}
		defer client.Close()
		info, err := client.EnqueueIntegrityScan(ctx, jobs.IntegrityScanPayload{WindowHours: *window})
		if err != nil {
			fmt.Fprintln(os.Stderr, "enqueue scan:", err)
			os.Exit(1)
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "cleanup":
		fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
		retention := fs.Int("retention-hours", int(cfg.IdempotencyRetention.Hours()), "failed record retention in hours")
		_ = fs.Parse(os.Args[2:])
		client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		if err != nil {
			fmt.Fprintln(os.Stderr, "connect queue:", err)
			os.Exit(1)
		}
		defer client.Close()
		info, err := client.EnqueueIdempotencyCleanup(ctx, jobs.IdempotencyCleanupPayload{RetentionHours: *retention})
		if err != nil {
			fmt.Fprintln(os.Stderr, "enqueue cleanup:", err)
			os.Exit(1)
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer inspector.Close()
		info, err := inspector.GetQueueInfo(jobs.QueueDefault)
		if err != nil {
			fmt.Fprintln(os.Stderr, "queue info:", err)
			os.Exit(1)
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			info.Queue, info.Pending, info.Active, info.Scheduled, info.Retry)
	default:
		usage()
	}
}
