package cli

import (
	"github.com/absmach/fedmob/pkg/sdk"
	"github.com/spf13/cobra"
)

var (
	defOffset uint64 = 0
	defLimit  uint64 = 10
)

var fsdk sdk.SDK

func SetSDK(s sdk.SDK) {
	fsdk = s
}

var roundsCmd = []cobra.Command{
	{
		Use:   "list",
		Short: "List rounds",
		Long:  `List the rounds recorded by the client, oldest first.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			page, err := fsdk.ListRounds(defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	},
	{
		Use:   "get <round>",
		Short: "Get round",
		Long:  `Get one round record.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			rnd, err := parseRound(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			r, err := fsdk.GetRound(rnd)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, r)
		},
	},
}

func NewRoundsCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "rounds [list|get]",
		Short: "Client rounds",
		Long:  `Inspect the training rounds a client has run.`,
	}

	for i := range roundsCmd {
		cmd.AddCommand(&roundsCmd[i])
	}

	cmd.PersistentFlags().Uint64VarP(
		&defOffset,
		"offset",
		"o",
		defOffset,
		"Offset",
	)

	cmd.PersistentFlags().Uint64VarP(
		&defLimit,
		"limit",
		"l",
		defLimit,
		"Limit",
	)

	return &cmd
}

func NewSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Client session",
		Long:  `Show the client's session state and its resource health.`,
		Run: func(cmd *cobra.Command, _ []string) {
			s, err := fsdk.Session()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			h, err := fsdk.Health()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, s, h)
		},
	}
}
