package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeusync/framesync/internal/injector"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := injector.InitializeServer(injector.ConfigPath(*configPath))
	if err != nil {
		fmt.Println("Error configuring server:", err)
		os.Exit(1)
	}
	defer func() { _ = srv.Close() }()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)

	if err = srv.Start(ctx); err != nil {
		fmt.Println("Error starting server:", err)
		os.Exit(1)
	}

	<-stopCh
	cancel()
	if err = srv.Stop(); err != nil {
		fmt.Println("Error stopping server:", err)
	}
}
