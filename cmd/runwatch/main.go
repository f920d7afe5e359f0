// Command runwatch follows the progress stream of one scheduled run
// and exits when the run reaches a terminal state.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"example.com/activityfeed/internal/config"
	"example.com/activityfeed/internal/domain"
	"example.com/activityfeed/internal/stream"
)

func main() {
	scheduleID := flag.String("schedule", "", "schedule id of the run to follow")
	runID := flag.String("run", "", "run id to follow")
	flag.Parse()

	if *scheduleID == "" || *runID == "" {
		fmt.Fprintln(os.Stderr, "usage: runwatch -schedule <id> -run <id>")
		os.Exit(2)
	}

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan int, 1)

	onComplete := func(event domain.RunStreamEvent) {
		log.Printf("run finished: %s", event.Type)
		done <- 0
	}
	onError := func(err error) {
		log.Printf("run stream failed: %v", err)
		done <- 1
	}

	token := os.Getenv("RUN_STREAM_TOKEN")

	client := stream.NewClient(cfg.RunStreamBaseURL, token, onComplete, onError,
		stream.WithStateListener(func(state stream.State) {
			log.Printf("stream state: %s", state)
		}))

	if err := client.Connect(ctx, *scheduleID, *runID); err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer client.Disconnect()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case code := <-done:
		os.Exit(code)
	case <-shutdownCh:
		client.Disconnect()
	}
}
