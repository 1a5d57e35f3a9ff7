package main

import (
	"encoding/json"
	"errors"
	"image/png"
	"log"
	"net/http"
	"time"

	"github.com/kwv/stripemesh/mesh"
)

// stripColumnWidth is the pixel width of one frame in /strip.png
const stripColumnWidth = 2

// newHTTPServer creates an HTTP server with all endpoints. Handlers only read
// accumulator snapshots and statistics, so they are safe while the scan runs.
func newHTTPServer(scanner *mesh.Scanner, publisher *mesh.Publisher, config *mesh.Config) http.Handler {
	mux := http.NewServeMux()
	acc := scanner.Accumulator()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Session   string    `json:"session"`
			Scanning  bool      `json:"scanning"`
			Records   int       `json:"records"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Session:   acc.ID().String(),
			Scanning:  scanner.Stats().Running,
			Records:   acc.Len(),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	// Scan statistics, plus the last published progress when MQTT is on
	mux.HandleFunc("/progress", func(w http.ResponseWriter, r *http.Request) {
		body := struct {
			Session string             `json:"session"`
			Target  int                `json:"target"`
			Points  int                `json:"points"`
			Stats   mesh.ScanStats     `json:"stats"`
			Last    *mesh.ScanProgress `json:"last,omitempty"`
		}{
			Session: acc.ID().String(),
			Target:  config.Scanner.Frames,
			Points:  acc.PointCount(),
			Stats:   scanner.Stats(),
		}
		if publisher != nil {
			if last, ok := publisher.LastProgress(); ok {
				body.Last = &last
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.Printf("Error encoding progress: %v", err)
		}
	})

	// Top view of the point cloud
	mux.HandleFunc("/preview.png", func(w http.ResponseWriter, r *http.Request) {
		records := acc.Snapshot()
		if len(records) == 0 {
			http.Error(w, "No records yet", http.StatusServiceUnavailable)
			return
		}
		renderer := mesh.NewTopViewRenderer(records, config.Reconstruction.MaxRadius)
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.EncodePNG(w); err != nil {
			log.Printf("Error encoding preview PNG: %v", err)
		}
	})

	// Layer cross-sections as SVG
	mux.HandleFunc("/preview.svg", func(w http.ResponseWriter, r *http.Request) {
		points := mesh.SurfacePointsFromRecords(acc.Snapshot())
		if len(points) == 0 {
			http.Error(w, "No points yet", http.StatusServiceUnavailable)
			return
		}
		layers := mesh.GroupLayers(points, config.Mesh.LayerPrecision)
		renderer := mesh.NewVectorRenderer(layers, config.Reconstruction.MaxRadius)
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w); err != nil {
			log.Printf("Error rendering preview SVG: %v", err)
		}
	})

	// Layer cross-sections rasterized
	mux.HandleFunc("/sections.png", func(w http.ResponseWriter, r *http.Request) {
		points := mesh.SurfacePointsFromRecords(acc.Snapshot())
		if len(points) == 0 {
			http.Error(w, "No points yet", http.StatusServiceUnavailable)
			return
		}
		layers := mesh.GroupLayers(points, config.Mesh.LayerPrecision)
		renderer := mesh.NewVectorRenderer(layers, config.Reconstruction.MaxRadius)
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToPNG(w); err != nil {
			log.Printf("Error rendering sections PNG: %v", err)
		}
	})

	// Unwrapped stripe image, one column per frame
	mux.HandleFunc("/strip.png", func(w http.ResponseWriter, r *http.Request) {
		records := acc.Snapshot()
		if len(records) == 0 {
			http.Error(w, "No records yet", http.StatusServiceUnavailable)
			return
		}
		img := mesh.RenderStrip(records, 0, stripColumnWidth, nil)
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := png.Encode(w, img); err != nil {
			log.Printf("Error encoding strip PNG: %v", err)
		}
	})

	// Point cloud download
	mux.HandleFunc("/points.xyz", func(w http.ResponseWriter, r *http.Request) {
		points := mesh.PointsFromRecords(acc.Snapshot())
		if len(points) < 3 {
			http.Error(w, "Not enough points yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := mesh.WriteXYZ(w, points, true); err != nil {
			log.Printf("Error writing points: %v", err)
		}
	})

	// Mesh download
	mux.HandleFunc("/mesh.stl", func(w http.ResponseWriter, r *http.Request) {
		m, _, err := mesh.BuildMeshFromRecords(acc.Snapshot(), config.Mesh)
		if errors.Is(err, mesh.ErrInsufficientData) || (err == nil && len(m.Triangles) == 0) {
			http.Error(w, "Not enough data for a mesh yet", http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			log.Printf("Error building mesh: %v", err)
			http.Error(w, "Mesh build failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "model/stl")
		w.Header().Set("Content-Disposition", `attachment; filename="scan.stl"`)
		if err := mesh.WriteSTL(w, m); err != nil {
			log.Printf("Error writing STL: %v", err)
		}
	})

	return mux
}
