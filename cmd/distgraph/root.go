package main

import (
	"fmt"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/cobra"

	"github.com/hupe1980/distgraph/blobstore"
	miniostore "github.com/hupe1980/distgraph/blobstore/minio"
	"github.com/hupe1980/distgraph/codec"
)

var rootCmd = &cobra.Command{
	Use:   "distgraph",
	Short: "Partition and serve graphs across machines",
	Long: `distgraph partitions a graph into halo-extended subgraphs and serves the
result from a cluster of servers, one per partition.

Typical flow:
  distgraph partition --edges graph.tsv --num-nodes 1000000 --parts 4 --name papers --dir ./artifacts
  distgraph server --rank 0 --ip-config ip_config.txt --name papers --dir ./artifacts
  distgraph launch --ip-config ip_config.txt --name papers --num-clients 4 \
      --server-cmd "distgraph server --name papers --dir ./artifacts --ip-config ip_config.txt" \
      --client-cmd ./train`,
	SilenceUsage: true,
}

// Store flags shared by the partition and server commands. A dir selects the
// local filesystem store; an s3 endpoint selects an S3-compatible store with
// credentials from DISTGRAPH_S3_ACCESS_KEY / DISTGRAPH_S3_SECRET_KEY.
var (
	storeDir    string
	s3Endpoint  string
	s3Bucket    string
	s3Prefix    string
	s3UseSSL    bool

	codecName string
)

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&storeDir, "dir", "", "local artifact directory")
	cmd.Flags().StringVar(&s3Endpoint, "s3-endpoint", "", "S3-compatible endpoint (host:port)")
	cmd.Flags().StringVar(&s3Bucket, "s3-bucket", "", "S3 bucket holding the artifacts")
	cmd.Flags().StringVar(&s3Prefix, "s3-prefix", "", "key prefix inside the bucket")
	cmd.Flags().BoolVar(&s3UseSSL, "s3-ssl", true, "use TLS for the S3 endpoint")
}

// Codec selection is a compatibility boundary: every process in a cluster
// must pass the same name.
func addCodecFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&codecName, "codec", "json", "payload codec for manifests and RPC")
}

func resolveCodec(name string) (codec.Codec, error) {
	c, ok := codec.ByName(name)
	if !ok {
		return nil, fmt.Errorf("unknown codec %q", name)
	}
	return c, nil
}

func openStore(cmd *cobra.Command) (blobstore.BlobStore, error) {
	if s3Endpoint != "" {
		client, err := minio.New(s3Endpoint, &minio.Options{
			Creds: credentials.NewStaticV4(
				os.Getenv("DISTGRAPH_S3_ACCESS_KEY"),
				os.Getenv("DISTGRAPH_S3_SECRET_KEY"), ""),
			Secure: s3UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return miniostore.NewStore(client, s3Bucket, s3Prefix), nil
	}
	if storeDir == "" {
		return nil, fmt.Errorf("%s: either --dir or --s3-endpoint is required", cmd.Name())
	}
	return blobstore.NewLocalStore(storeDir), nil
}
