// Program build_octree builds an out-of-core octree from a point stream,
// writing tiles and a commit manifest to an output directory (spec §4.3,
// §6).
//
// Example usage:
//
//	build_octree --output_directory out --resolution 0.01 points.xyz
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"runtime"

	pc "github.com/cartographer-project/point-cloud-viewer"
	"github.com/cartographer-project/point-cloud-viewer/internal/builder"
	"github.com/cartographer-project/point-cloud-viewer/internal/pointstream"
)

func boundingCube(path string) (pc.Cube, error) {
	f, err := os.Open(path)
	if err != nil {
		return pc.Cube{}, err
	}
	defer f.Close()

	src := pointstream.OpenText(f)
	min := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	max := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	var any bool
	for {
		p, err := src.Next()
		if err != nil {
			break
		}
		any = true
		if p.X < min[0] {
			min[0] = p.X
		}
		if p.Y < min[1] {
			min[1] = p.Y
		}
		if p.Z < min[2] {
			min[2] = p.Z
		}
		if p.X > max[0] {
			max[0] = p.X
		}
		if p.Y > max[1] {
			max[1] = p.Y
		}
		if p.Z > max[2] {
			max[2] = p.Z
		}
	}
	if !any {
		return pc.Cube{}, &pc.InputError{Msg: "point stream is empty"}
	}
	return pc.BoundingCube(min, max), nil
}

func run() error {
	outputDirectory := flag.String("output_directory", "", "directory to write the built octree into (required)")
	resolution := flag.Float64("resolution", 0.001, "maximum quantization error, in input units, any stored point may carry")
	maxPointsPerNode := flag.Uint64("max-points-per-node", 50000, "N_max: points per node above which a node splits")
	maxDepth := flag.Uint64("max-depth", 20, "D_max: depth at which a node stops splitting regardless of point count")
	threads := flag.Int("threads", runtime.NumCPU(), "worker goroutines for pass 1 splitting and pass 2 subsampling")
	batchSize := flag.Int("batch-size", 1<<16, "points buffered per batch between the point stream and the builder")
	hasIntensity := flag.Bool("has-intensity", false, "commit a per-point intensity byte channel alongside position/color (taken from the 7th field of each input line; lines with 6 fields store intensity 0)")
	flag.Parse()

	if *outputDirectory == "" {
		return fmt.Errorf("--output_directory is required")
	}
	if flag.NArg() != 1 {
		return fmt.Errorf("usage: build_octree --output_directory <dir> [flags] <input>")
	}
	input := flag.Arg(0)

	rootCube, err := boundingCube(input)
	if err != nil {
		return fmt.Errorf("scanning %s for its bounding cube: %w", input, err)
	}

	f, err := os.Open(input)
	if err != nil {
		return err
	}
	src := pointstream.OpenText(f)

	logger := log.New(os.Stderr, "build_octree: ", log.LstdFlags)
	ctx, cancel := pc.InterruptibleContext()
	defer cancel()

	pc.RegisterAtExit(func() error {
		logger.Printf("shutting down, closing %s", input)
		return f.Close()
	})
	defer func() {
		if err := pc.RunAtExit(); err != nil {
			logger.Printf("cleanup error: %v", err)
		}
	}()

	m, err := builder.Build(ctx, builder.Ctx{
		Log:          logger,
		Dir:          *outputDirectory,
		RootCube:     rootCube,
		Resolution:   *resolution,
		NMax:         uint32(*maxPointsPerNode),
		DMax:         uint32(*maxDepth),
		HasIntensity: *hasIntensity,
		Threads:      *threads,
		BatchSize:    *batchSize,
	}, src)
	if err != nil {
		return err
	}
	logger.Printf("committed %d nodes to %s", len(m.Nodes), *outputDirectory)
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
