package cli

import (
	"github.com/spf13/cobra"
)

var clientsCmd = []cobra.Command{
	{
		Use:   "list",
		Short: "List clients",
		Long:  `List the clients connected to the bridge.`,
		Run: func(cmd *cobra.Command, _ []string) {
			s, err := fsdk.Clients()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, s)
		},
	},
	{
		Use:   "view <id>",
		Short: "View client",
		Long:  `View one client connected to the bridge.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			c, err := fsdk.Client(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, c)
		},
	},
	{
		Use:   "start-round <id> [round]",
		Short: "Start round",
		Long:  `Offer a round to a client. Without a round number the client's next round is offered.`,
		Run: func(cmd *cobra.Command, args []string) {
			rnd, ok := actionArgs(*cmd, args)
			if !ok {
				return
			}

			if err := fsdk.StartRound(args[0], rnd); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	},
	{
		Use:   "evaluate <id> [round]",
		Short: "Evaluate",
		Long:  `Ask a client to evaluate the bridge's global weights.`,
		Run: func(cmd *cobra.Command, args []string) {
			rnd, ok := actionArgs(*cmd, args)
			if !ok {
				return
			}

			if err := fsdk.Evaluate(args[0], rnd); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	},
	{
		Use:   "results",
		Short: "List results",
		Long:  `List the training results the bridge has accepted.`,
		Run: func(cmd *cobra.Command, _ []string) {
			res, err := fsdk.Results()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, res)
		},
	},
}

func actionArgs(cmd cobra.Command, args []string) (int, bool) {
	if len(args) < 1 || len(args) > 2 {
		logUsageCmd(cmd, cmd.Use)

		return 0, false
	}
	if len(args) == 1 {
		return 0, true
	}

	rnd, err := parseRound(args[1])
	if err != nil {
		logErrorCmd(cmd, err)

		return 0, false
	}

	return rnd, true
}

func NewClientsCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "clients [list|view|start-round|evaluate|results]",
		Short: "Bridge clients",
		Long:  `Inspect and drive the clients connected to the bridge.`,
	}

	for i := range clientsCmd {
		cmd.AddCommand(&clientsCmd[i])
	}

	return &cmd
}
