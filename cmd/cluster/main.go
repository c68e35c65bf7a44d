// Command cluster merges nearby spawnpoints with compatible appearance
// times so one scan covers each group.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/locplace/mapscan/internal/cluster"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		radius        float64
		timeThreshold float64
		outSpawns     string
		outClusters   string
		longKeys      bool
	)
	flag.Float64Var(&radius, "r", cluster.DefaultRadius, "maximum cluster radius in metres")
	flag.Float64Var(&radius, "radius", cluster.DefaultRadius, "maximum cluster radius in metres")
	flag.Float64Var(&timeThreshold, "t", cluster.DefaultTimeThreshold, "maximum time spread in seconds")
	flag.Float64Var(&timeThreshold, "time-threshold", cluster.DefaultTimeThreshold, "maximum time spread in seconds")
	flag.StringVar(&outSpawns, "os", "", "file to write clustered spawnpoints to")
	flag.StringVar(&outSpawns, "output-spawnpoints", "", "file to write clustered spawnpoints to")
	flag.StringVar(&outClusters, "oc", "", "file to write cluster data to")
	flag.StringVar(&outClusters, "output-clusters", "", "file to write cluster data to")
	flag.BoolVar(&longKeys, "long-keys", false, "write spawnpoint_id/latitude/longitude keys")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: cluster [flags] spawnpoints.json\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return 2
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync() //nolint:errcheck // Sync error not actionable on exit
	log := logger.Sugar()

	points, err := cluster.ReadFile(flag.Arg(0))
	if err != nil {
		log.Errorf("Failed to read spawnpoints: %v", err)
		return 1
	}
	log.Infof("Loaded %d spawnpoints from %s", len(points), flag.Arg(0))

	clusters := cluster.Run(points, radius, int(timeThreshold))
	for _, c := range clusters {
		if err := c.Check(radius, int(timeThreshold)); err != nil {
			log.Errorf("Cluster check failed: %v", err)
			return 1
		}
	}
	log.Infof("Compressed %d spawnpoints into %d clusters", len(points), len(clusters))

	if outSpawns != "" {
		err := writeFile(outSpawns, func(w io.Writer) error {
			return cluster.EncodeSpawnpoints(w, clusters, longKeys)
		})
		if err != nil {
			log.Errorf("Failed to write spawnpoints: %v", err)
			return 1
		}
		log.Infof("Wrote clustered spawnpoints to %s", outSpawns)
	}
	if outClusters != "" {
		err := writeFile(outClusters, func(w io.Writer) error {
			return cluster.EncodeClusters(w, clusters)
		})
		if err != nil {
			log.Errorf("Failed to write clusters: %v", err)
			return 1
		}
		log.Infof("Wrote cluster data to %s", outClusters)
	}
	return 0
}

func writeFile(path string, encode func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encode(f); err != nil {
		f.Close() //nolint:errcheck // Encode error takes precedence
		return err
	}
	return f.Close()
}
