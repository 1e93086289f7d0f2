package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/distgraph/graph"
	"github.com/hupe1980/distgraph/partition"
)

var (
	partEdges       string
	partNumNodes    int64
	partName        string
	partNumParts    int
	partHaloHops    int
	partNoReshuffle bool
	partSeed        int64
	partCompression string
)

var partitionCmd = &cobra.Command{
	Use:   "partition",
	Short: "Partition an edge list into serving artifacts",
	Long: `Partition reads a whitespace-separated edge list (one "src dst" pair per
line, # starts a comment), splits the graph, and writes the artifacts to the
selected store. Node IDs must lie in [0, num-nodes).`,
	RunE: runPartition,
}

func init() {
	partitionCmd.Flags().StringVar(&partEdges, "edges", "-", `edge list file, "-" for stdin`)
	partitionCmd.Flags().Int64Var(&partNumNodes, "num-nodes", 0, "number of nodes in the graph")
	partitionCmd.Flags().StringVar(&partName, "name", "", "artifact name to write")
	partitionCmd.Flags().IntVar(&partNumParts, "parts", 1, "number of partitions")
	partitionCmd.Flags().IntVar(&partHaloHops, "halo-hops", 1, "halo depth in hops")
	partitionCmd.Flags().BoolVar(&partNoReshuffle, "no-reshuffle", false, "keep original IDs (explicit partition book)")
	partitionCmd.Flags().Int64Var(&partSeed, "seed", 1, "assignment seed")
	partitionCmd.Flags().StringVar(&partCompression, "compression", "none", "artifact compression: none, lz4, zstd")
	addStoreFlags(partitionCmd)
	addCodecFlag(partitionCmd)
	_ = partitionCmd.MarkFlagRequired("num-nodes")
	_ = partitionCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(partitionCmd)
}

func runPartition(cmd *cobra.Command, _ []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	compression, err := parseCompression(partCompression)
	if err != nil {
		return err
	}
	cdc, err := resolveCodec(codecName)
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if partEdges != "-" {
		f, err := os.Open(partEdges)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	g, err := readEdgeList(in, partNumNodes)
	if err != nil {
		return err
	}

	res, err := partition.Partition(g, partNumParts,
		partition.WithHaloHops(partHaloHops),
		partition.WithReshuffle(!partNoReshuffle),
		partition.WithSeed(partSeed),
		partition.WithLogger(slog.Default()),
	)
	if err != nil {
		return err
	}

	m, err := partition.WriteArtifacts(cmd.Context(), store, partName, res,
		partition.WithCompression(compression),
		partition.WithManifestCodec(cdc))
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %q: %d nodes, %d edges, %d partitions (%s book)\n",
		partName, m.NumNodes, m.NumEdges, m.NumParts, m.BookPolicy)
	return nil
}

func parseCompression(s string) (partition.Compression, error) {
	switch s {
	case "none":
		return partition.CompressionNone, nil
	case "lz4":
		return partition.CompressionLZ4, nil
	case "zstd":
		return partition.CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want none, lz4 or zstd)", s)
	}
}

func readEdgeList(r io.Reader, numNodes int64) (*graph.Graph, error) {
	b := graph.NewBuilder(numNodes)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: want \"src dst\", got %q", lineNo, line)
		}
		src, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad source %q", lineNo, fields[0])
		}
		dst, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad destination %q", lineNo, fields[1])
		}
		b.AddEdge(graph.NodeID(src), graph.NodeID(dst))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return b.Build()
}
