// Package main provides alertwatch, a terminal consumer of the relay's alert
// stream. It connects once, prints every valid alert as it arrives and keeps the
// most recent ones in a bounded window; invalid payloads are dropped.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/faultsys/alertrelay/internal/feed"
	"github.com/faultsys/alertrelay/internal/logging"
	log "github.com/sirupsen/logrus"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	var (
		url     string
		window  int
		asJSON  bool
		summary bool
		debug   bool
	)
	flag.StringVar(&url, "url", "ws://localhost:8080/", "Relay WebSocket URL")
	flag.IntVar(&window, "window", feed.DefaultWindowSize, "Number of recent alerts to keep")
	flag.BoolVar(&asJSON, "json", false, "Print raw alerts as JSON with a received timestamp")
	flag.BoolVar(&summary, "summary", false, "Print the alert window when the stream ends")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if debug {
		log.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := feed.NewClient(feed.Options{
		URL:        url,
		WindowSize: window,
		OnAlert: func(e feed.Entry) {
			if !asJSON {
				fmt.Println(feed.FormatLine(e))
				return
			}
			stamped, err := feed.StampJSON(e)
			if err != nil {
				log.WithError(err).Warn("failed to stamp alert")
				return
			}
			fmt.Println(string(stamped))
		},
	})

	err := client.Run(ctx)
	if summary {
		printSummary(client)
	}
	log.Infof("received %d alert(s), discarded %d invalid payload(s)", client.Received(), client.Discarded())
	if err != nil {
		log.Errorf("alert stream failed: %v", err)
		os.Exit(1)
	}
}

func printSummary(client *feed.Client) {
	w := client.Window()
	fmt.Printf("Active Alerts: %d (critical %d, window %d)\n", w.Len(), w.Critical(), w.Size())
	for _, e := range w.Snapshot() {
		fmt.Println("  " + feed.FormatLine(e))
	}
}
