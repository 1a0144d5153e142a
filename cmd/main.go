package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/yungbote/sitegen-backend/internal/app"
	"github.com/yungbote/sitegen-backend/internal/platform/shutdown"
)

func main() {
	mode := flag.String("mode", envOr("RUN_MODE", "server"), "server | worker | all")
	flag.Parse()

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		fmt.Printf("failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	switch *mode {
	case "server":
		err = a.RunServer(ctx)
	case "worker":
		err = a.RunWorker(ctx)
	case "all":
		errc := make(chan error, 1)
		go func() { errc <- a.RunWorker(ctx) }()
		err = a.RunServer(ctx)
		stop()
		if werr := <-errc; err == nil {
			err = werr
		}
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		a.Log.Error("exited with error", "mode", *mode, "error", err)
		a.Close()
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
