package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeusync/framesync/internal/injector"
	"github.com/zeusync/framesync/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	retry := flag.Duration("retry", time.Second, "delay before reconnecting")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := injector.InitializeClient(injector.ConfigPath(*configPath))
	if err != nil {
		fmt.Println("Error configuring observer:", err)
		os.Exit(1)
	}
	defer client.Close()

	go report(ctx, client)

	for {
		err = client.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		fmt.Println("Disconnected:", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(*retry):
		}
	}
}

func report(ctx context.Context, client *server.Client) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := client.Mirror()
			fmt.Printf("frame %d, %d entities\n", m.Frame(), len(m.Entities()))
		}
	}
}
