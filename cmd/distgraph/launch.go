package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/distgraph/launch"
)

var (
	launchIPConfig   string
	launchGraph      string
	launchNumClients int
	launchServerCmd  string
	launchClientCmd  string
	launchWorkDir    string
	launchSSHPort    int
	launchSSHUser    string
	launchEnv        []string
)

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Start a full cluster from one machine",
	Long: `Launch starts one server process per ip-config entry and spreads the
client processes evenly over the machines. Remote processes run over ssh;
loopback hosts run locally. Launch blocks until every process has exited.`,
	RunE: runLaunch,
}

func init() {
	launchCmd.Flags().StringVar(&launchIPConfig, "ip-config", "", "ip-config file listing all servers")
	launchCmd.Flags().StringVar(&launchGraph, "name", "", "artifact name passed to every process")
	launchCmd.Flags().IntVar(&launchNumClients, "num-clients", 1, "total client processes")
	launchCmd.Flags().StringVar(&launchServerCmd, "server-cmd", "", "shell command run per server")
	launchCmd.Flags().StringVar(&launchClientCmd, "client-cmd", "", "shell command run per client")
	launchCmd.Flags().StringVar(&launchWorkDir, "workdir", "", "working directory on every machine")
	launchCmd.Flags().IntVar(&launchSSHPort, "ssh-port", 22, "ssh port for remote hosts")
	launchCmd.Flags().StringVar(&launchSSHUser, "ssh-user", "", "ssh login user")
	launchCmd.Flags().StringArrayVar(&launchEnv, "env", nil, "extra KEY=VALUE for every process (repeatable)")
	_ = launchCmd.MarkFlagRequired("ip-config")
	_ = launchCmd.MarkFlagRequired("server-cmd")
	_ = launchCmd.MarkFlagRequired("client-cmd")
	rootCmd.AddCommand(launchCmd)
}

func runLaunch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return launch.Run(ctx, launch.Config{
		IPConfigPath: launchIPConfig,
		PartConfig:   launchGraph,
		NumClients:   launchNumClients,
		ServerCmd:    launchServerCmd,
		ClientCmd:    launchClientCmd,
		WorkDir:      launchWorkDir,
		Env:          launchEnv,
	},
		launch.WithSSHPort(launchSSHPort),
		launch.WithSSHUser(launchSSHUser),
	)
}
