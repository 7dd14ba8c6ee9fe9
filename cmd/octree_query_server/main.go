// Program octree_query_server serves a committed octree over HTTP: a
// client sends its current view-projection matrix and viewport as query
// parameters to /visible_nodes and gets back the node list spec §4.5
// would compute locally, then fetches each node's raw tile bytes from /nodes_data
// (spec §6).
//
// Example usage:
//
//	octree_query_server --listen localhost:7000 out
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	pc "github.com/cartographer-project/point-cloud-viewer"
	"github.com/cartographer-project/point-cloud-viewer/internal/frustum"
	"github.com/cartographer-project/point-cloud-viewer/internal/query"
)

// errHandlerFunc adapts a handler that can fail into an http.Handler,
// logging and reporting the error the way the teacher's repobrowser
// command wraps its HTTP handlers.
func errHandlerFunc(h func(w http.ResponseWriter, r *http.Request) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			log.Printf("HTTP serving error: %v", err)
			code := http.StatusInternalServerError
			if _, ok := err.(*pc.NodeAbsentError); ok {
				code = http.StatusNotFound
			}
			http.Error(w, err.Error(), code)
		}
	})
}

// parseMatrix parses the 16-element comma-separated view-projection matrix
// spec §6 specifies for the visible_nodes query parameter.
func parseMatrix(csv string) (frustum.Mat4, error) {
	var mvp frustum.Mat4
	fields := strings.Split(csv, ",")
	if len(fields) != len(mvp) {
		return mvp, fmt.Errorf("matrix must have %d comma-separated values, got %d", len(mvp), len(fields))
	}
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return mvp, fmt.Errorf("matrix element %d: %w", i, err)
		}
		mvp[i] = v
	}
	return mvp, nil
}

// visibleNodesHandler implements spec §6's
// `visible_nodes?matrix=<16 f32 csv>&width=<px>&height=<px>` endpoint.
func visibleNodesHandler(eng *query.Engine) http.Handler {
	return errHandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		mvp, err := parseMatrix(r.URL.Query().Get("matrix"))
		if err != nil {
			return &pc.InputError{Msg: "matrix query parameter", Err: err}
		}
		width, err := strconv.Atoi(r.URL.Query().Get("width"))
		if err != nil {
			return &pc.InputError{Msg: "width query parameter", Err: err}
		}
		height, err := strconv.Atoi(r.URL.Query().Get("height"))
		if err != nil {
			return &pc.InputError{Msg: "height query parameter", Err: err}
		}

		ids := eng.VisibleNodes(mvp, width, height)
		nodes := make([]string, len(ids))
		for i, id := range ids {
			nodes[i] = id.String()
		}
		w.Header().Set("Content-Type", "application/json")
		return json.NewEncoder(w).Encode(nodes)
	})
}

// nodesDataHandler implements spec §6's `nodes_data` endpoint: POST body is
// a JSON array of NodeId strings, response is their raw tiles concatenated
// in request order.
func nodesDataHandler(eng *query.Engine) http.Handler {
	return errHandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		if r.Method != http.MethodPost {
			http.Error(w, "nodes_data requires POST", http.StatusMethodNotAllowed)
			return nil
		}
		var raw []string
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return &pc.InputError{Msg: "decoding node id list", Err: err}
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		for _, s := range raw {
			id, err := pc.NewNodeId(s)
			if err != nil {
				return err
			}
			b, err := eng.FetchBytes(id)
			if err != nil {
				return err
			}
			if _, err := w.Write(b); err != nil {
				return err
			}
		}
		return nil
	})
}

func metadataHandler(eng *query.Engine) http.Handler {
	return errHandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		w.Header().Set("Content-Type", "application/json")
		return json.NewEncoder(w).Encode(eng.Metadata())
	})
}

func run() error {
	listen := flag.String("listen", "localhost:7000", "address to serve the query API on")
	cacheBytes := flag.Int64("cache-bytes", query.DefaultCacheBytes, "decoded-tile cache budget, in bytes")
	flag.Parse()

	if flag.NArg() != 1 {
		return fmt.Errorf("usage: octree_query_server --listen <addr> <octree_directory>")
	}
	dir := flag.Arg(0)

	eng, err := query.Open(dir, *cacheBytes)
	if err != nil {
		return err
	}
	defer eng.Close()

	mux := http.NewServeMux()
	mux.Handle("/visible_nodes", visibleNodesHandler(eng))
	mux.Handle("/nodes_data", nodesDataHandler(eng))
	mux.Handle("/metadata", metadataHandler(eng))

	log.Printf("serving %s on %s", dir, *listen)
	return http.ListenAndServe(*listen, mux)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
