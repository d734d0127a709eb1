package main

import (
	"log"

	"github.com/absmach/fedmob/cli"
	"github.com/absmach/fedmob/pkg/sdk"
	"github.com/spf13/cobra"
)

const (
	defClientURL       = "http://localhost:9090"
	defBridgeURL       = "http://localhost:8765"
	defTLSVerification = false
)

func main() {
	sdkConf := sdk.Config{
		ClientURL:       defClientURL,
		BridgeURL:       defBridgeURL,
		TLSVerification: defTLSVerification,
	}

	rootCmd := &cobra.Command{
		Use:   "fedmob-cli",
		Short: "Fedmob CLI",
		Long:  `Fedmob CLI is a command line interface for inspecting edge clients and driving rounds on the bridge.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			s := sdk.NewSDK(sdkConf)
			cli.SetSDK(s)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&sdkConf.ClientURL, "client-url", "u", sdkConf.ClientURL, "Edge client HTTP URL")
	rootCmd.PersistentFlags().StringVarP(&sdkConf.BridgeURL, "bridge-url", "b", sdkConf.BridgeURL, "Bridge HTTP URL")
	rootCmd.PersistentFlags().BoolVarP(&sdkConf.TLSVerification, "tls-verification", "t", sdkConf.TLSVerification, "Verify TLS certificates")

	rootCmd.AddCommand(cli.NewRoundsCmd())
	rootCmd.AddCommand(cli.NewSessionCmd())
	rootCmd.AddCommand(cli.NewClientsCmd())
	rootCmd.AddCommand(cli.NewProvisionCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
