package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/distgraph"
	"github.com/hupe1980/distgraph/launch"
	"github.com/hupe1980/distgraph/partition"
	"github.com/hupe1980/distgraph/rpc"
)

var (
	serverRank     int
	serverIPConfig string
	serverGraph    string
	serverSeed     int64
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve one partition of a graph",
	Long: `Server loads one partition from the artifact store and serves it until
client rank 0 broadcasts the cluster shutdown or the process is interrupted.

Under the launch command, --rank and --ip-config default to the
DISTGRAPH_SERVER_ID and DISTGRAPH_IP_CONFIG environment variables.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().IntVar(&serverRank, "rank", -1, "server rank (== partition ID)")
	serverCmd.Flags().StringVar(&serverIPConfig, "ip-config", "", "ip-config file listing all servers")
	serverCmd.Flags().StringVar(&serverGraph, "name", "", "artifact name to serve")
	serverCmd.Flags().Int64Var(&serverSeed, "sample-seed", 1, "neighbor sampling seed")
	addStoreFlags(serverCmd)
	addCodecFlag(serverCmd)
	_ = serverCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, _ []string) error {
	if serverRank < 0 {
		v, err := strconv.Atoi(os.Getenv(launch.EnvServerID))
		if err != nil {
			return fmt.Errorf("server: --rank not set and %s unusable: %w", launch.EnvServerID, err)
		}
		serverRank = v
	}
	if serverIPConfig == "" {
		serverIPConfig = os.Getenv(launch.EnvIPConfig)
	}
	if serverIPConfig == "" {
		return fmt.Errorf("server: --ip-config or %s is required", launch.EnvIPConfig)
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	cdc, err := resolveCodec(codecName)
	if err != nil {
		return err
	}
	nb, err := rpc.LoadIPConfig(serverIPConfig)
	if err != nil {
		return err
	}

	logger := distgraph.NewTextLogger(slog.LevelInfo)
	gs, err := distgraph.NewGraphServer(serverRank, nb, store, serverGraph,
		distgraph.WithLogger(logger),
		distgraph.WithSampleSeed(serverSeed),
		distgraph.WithRPCServerOptions(rpc.WithServerCodec(cdc)),
		distgraph.WithArtifactOptions(partition.WithManifestCodec(cdc)),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return gs.Start(ctx)
}
