// Program octree_benchmark exercises a committed octree's read path: it
// asks for the nodes visible from a fixed viewpoint, fetches their tiles,
// and prints running per-axis statistics over the points it saw (spec
// §6).
//
// Example usage:
//
//	octree_benchmark --num-points 1000000 out
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	pc "github.com/cartographer-project/point-cloud-viewer"
	"github.com/cartographer-project/point-cloud-viewer/internal/frustum"
	"github.com/cartographer-project/point-cloud-viewer/internal/query"
	"github.com/cartographer-project/point-cloud-viewer/internal/stats"
)

// lookAtRoot returns a simple view-projection matrix framing the root
// cube head-on from outside it, enough to drive a deterministic
// benchmark without a real rendering client.
func lookAtRoot(c pc.Cube) frustum.Mat4 {
	dist := c.Edge * 3
	var proj frustum.Mat4
	f := 1.0 // cot(fov/2) for a ~90 degree vertical fov
	proj[0] = f
	proj[5] = f
	near, far := c.Edge*0.01, dist*4
	proj[10] = (far + near) / (near - far)
	proj[11] = -1
	proj[14] = (2 * far * near) / (near - far)

	// Camera sits dist beyond the cube's center along +z, looking down -z,
	// so the cube's center projects to the middle of the viewport wherever
	// the cloud lives in its metric frame.
	center := c.Center()
	var view frustum.Mat4
	view[0], view[5], view[10], view[15] = 1, 1, 1, 1
	view[12] = -center[0]
	view[13] = -center[1]
	view[14] = -center[2] - dist

	var out frustum.Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += proj[k*4+row] * view[col*4+k]
			}
			out[col*4+row] = sum
		}
	}
	return out
}

func run() error {
	numPoints := flag.Int("num-points", 1_000_000, "stop after accumulating statistics over this many points")
	noClient := flag.Bool("no-client", false, "skip the simulated client round trip, measuring store throughput only")
	widthPx := flag.Int("width", 1920, "viewport width, in pixels, used to size the simulated frustum query")
	heightPx := flag.Int("height", 1080, "viewport height, in pixels")
	flag.Parse()

	if flag.NArg() != 1 {
		return fmt.Errorf("usage: octree_benchmark --num-points N [flags] <octree_directory>")
	}
	dir := flag.Arg(0)

	eng, err := query.Open(dir, 0)
	if err != nil {
		return err
	}
	defer eng.Close()
	meta := eng.Metadata()

	logger := log.New(os.Stderr, "octree_benchmark: ", log.LstdFlags)

	viewProj := lookAtRoot(meta.RootCube)
	visible := eng.VisibleNodes(viewProj, *widthPx, *heightPx)
	logger.Printf("%d nodes visible from the benchmark viewpoint", len(visible))

	ctx := context.Background()
	if *noClient {
		logger.Printf("--no-client set: measuring store reads without decoding into a client-side representation")
		return runNoClient(ctx, eng, visible)
	}

	var ps stats.PointStats
	for _, id := range visible {
		if ps.Count >= int64(*numPoints) {
			break
		}
		tl, err := eng.Fetch(ctx, id)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", id, err)
		}
		for _, p := range tl.Points {
			if ps.Count >= int64(*numPoints) {
				break
			}
			ps.Add(p.X, p.Y, p.Z)
		}
	}

	fmt.Printf("count=%d\n", ps.Count)
	fmt.Printf("x_stats: mean=%g stddev=%g\n", ps.X.Mean(), ps.X.StdDev())
	fmt.Printf("y_stats: mean=%g stddev=%g\n", ps.Y.Mean(), ps.Y.StdDev())
	fmt.Printf("z_stats: mean=%g stddev=%g\n", ps.Z.Mean(), ps.Z.StdDev())
	return nil
}

// runNoClient measures store throughput alone: it reads each visible
// node's raw stored bytes via FetchBytes, skipping tile.Decode entirely,
// so nothing here ever builds the client-side []pc.Point representation
// --no-client promises to skip.
func runNoClient(ctx context.Context, eng *query.Engine, visible []pc.NodeId) error {
	var nodes int
	var bytes int64
	for _, id := range visible {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := eng.FetchBytes(id)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", id, err)
		}
		nodes++
		bytes += int64(len(b))
	}
	fmt.Printf("nodes=%d bytes=%d\n", nodes, bytes)
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
