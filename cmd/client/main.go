package main

import (
	"context"
	"log"
	"os"

	"github.com/absmach/fedmob"
	"github.com/absmach/fedmob/fedmobd"
	"github.com/joho/godotenv"
)

const (
	pathEnv    = ".env"
	configPath = "FEDMOB_CONFIG"
)

func main() {
	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg, err := fedmob.LoadConfig(os.Getenv(configPath))
	if err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := fedmobd.StartClient(ctx, cancel, cfg.Client); err != nil {
		log.Fatalf("client terminated: %s", err.Error())
	}
}
