package cli

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/0x6flab/namegenerator"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

const filePermission = 0o644

var (
	errFailedToWriteConfig = errors.New("failed to create config file")
	errInvalidURL          = errors.New("bridge URL must be a ws:// or wss:// URL")
	errNotPositive         = errors.New("value must be a positive integer")
)

// Provision holds the answers used to render a config file.
type Provision struct {
	ClientID   string
	BridgeURL  string
	Transport  string
	Storage    string
	WeightPush string
	Rounds     string
	Epochs     string
	BatchSize  string
}

func defaultProvision() Provision {
	return Provision{
		ClientID:   namegenerator.NewGenerator().Generate(),
		BridgeURL:  "ws://localhost:8765/ws",
		Transport:  "websocket",
		Storage:    "sqlite",
		WeightPush: "final",
		Rounds:     "3",
		Epochs:     "1",
		BatchSize:  "32",
	}
}

// Render returns p as a TOML config file readable by fedmob.LoadConfig.
func (p Provision) Render() string {
	return fmt.Sprintf(`# fedmob configuration

[client]
transport = %q

[client.client]
id = %q
weight_push = %q

[client.websocket]
url = %q

[client.storage]
type = %q

[bridge.bridge]
rounds = %s
epochs = %s
batch_size = %s
model_variant = "dense_mlp"
`,
		p.Transport,
		p.ClientID,
		p.WeightPush,
		p.BridgeURL,
		p.Storage,
		p.Rounds,
		p.Epochs,
		p.BatchSize,
	)
}

func validateBridgeURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return errInvalidURL
	}

	return nil
}

func validatePositive(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return errNotPositive
	}

	return nil
}

func NewProvisionCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision configuration",
		Long:  `Interactively create a TOML config file for a client and a bridge.`,
		Run: func(cmd *cobra.Command, _ []string) {
			p := defaultProvision()

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Client ID").
						Value(&p.ClientID).
						Validate(huh.ValidateNotEmpty()),
					huh.NewInput().
						Title("Bridge URL").
						Value(&p.BridgeURL).
						Validate(validateBridgeURL),
					huh.NewSelect[string]().
						Title("Transport").
						Options(huh.NewOptions("websocket", "mqtt")...).
						Value(&p.Transport),
					huh.NewSelect[string]().
						Title("Weight push").
						Options(huh.NewOptions("final", "every_epoch")...).
						Value(&p.WeightPush),
					huh.NewSelect[string]().
						Title("Round storage").
						Options(huh.NewOptions("memory", "sqlite", "badger", "postgres")...).
						Value(&p.Storage),
				),
				huh.NewGroup(
					huh.NewInput().
						Title("Rounds per client").
						Value(&p.Rounds).
						Validate(validatePositive),
					huh.NewInput().
						Title("Epochs per round").
						Value(&p.Epochs).
						Validate(validatePositive),
					huh.NewInput().
						Title("Batch size").
						Value(&p.BatchSize).
						Validate(validatePositive),
				),
			)

			if err := form.Run(); err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			if err := os.WriteFile(output, []byte(p.Render()), filePermission); err != nil {
				logErrorCmd(*cmd, errors.Join(errFailedToWriteConfig, err))

				return
			}
			logSuccessCmd(*cmd, fmt.Sprintf("Successfully created %s", output))
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "config.toml", "Config file to write")

	return cmd
}
