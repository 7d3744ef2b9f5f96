package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"swapsmith/internal/bootstrap"

	"github.com/joho/godotenv"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/swapd.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("swapd version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Optional .env for local development; config expands ${VAR} references.
	_ = godotenv.Load()

	app, err := bootstrap.NewApp(context.Background(), *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "swapd exited with error: %v\n", err)
		os.Exit(1)
	}
}
