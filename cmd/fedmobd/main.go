package main

import (
	"log"
	"os"

	"github.com/absmach/fedmob/fedmobd"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const pathEnv = ".env"

func main() {
	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	rootCmd := &cobra.Command{
		Use:   "fedmobd",
		Short: "Fedmob Daemon",
		Long:  `Fedmob Daemon runs the federated-learning edge client and the reference bridge.`,
	}

	clientCmd := fedmobd.NewClientCmd()
	bridgeCmd := fedmobd.NewBridgeCmd()

	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(bridgeCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
