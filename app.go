package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/kwv/stripemesh/mesh"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *mesh.Config
	Tracker    *mesh.PositionTracker
	Scanner    *mesh.Scanner
	MQTTClient *mesh.MQTTClient
	Publisher  *mesh.Publisher

	// Out receives user-facing output
	Out io.Writer

	// CLI Flags (effectively dependencies)
	ConfigFile       string
	CalibrationCache string
	FramesDir        string
	SnapshotURL      string
	Frames           int
	Channels         string
	Export           string
	SessionFile      string
	DBPath           string
	Load             string
	Reproject        bool
	DeleteSession    string
	WriteConfig      string
	MqttMode         bool
	HttpMode         bool
	HttpPort         int
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{Out: os.Stdout}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.CalibrationCache = opts.CalibrationCache
	a.FramesDir = opts.FramesDir
	a.SnapshotURL = opts.SnapshotURL
	a.Frames = opts.Frames
	a.Channels = opts.Channels
	a.Export = opts.Export
	a.SessionFile = opts.SessionFile
	a.DBPath = opts.DBPath
	a.Load = opts.Load
	a.Reproject = opts.Reproject
	a.DeleteSession = opts.DeleteSession
	a.WriteConfig = opts.WriteConfig
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
	a.HttpPort = opts.HttpPort
}

// loadConfig reads the config file. The default path may be absent, in
// which case built-in defaults are used; an explicit path must exist.
func (a *App) loadConfig() (*mesh.Config, error) {
	if a.Config != nil {
		return a.Config, nil
	}
	config, err := mesh.LoadConfig(a.ConfigFile)
	if err != nil {
		if _, statErr := os.Stat(a.ConfigFile); os.IsNotExist(statErr) && a.ConfigFile == "config.yaml" {
			log.Printf("Warning: %s not found, using built-in defaults", a.ConfigFile)
			config = mesh.DefaultConfig()
		} else {
			return nil, fmt.Errorf("failed to load config: %w (looked at %s)", err, a.ConfigFile)
		}
	} else {
		log.Printf("Loaded config from %s", a.ConfigFile)
	}

	channels, err := config.ParseChannelList(a.Channels)
	if err != nil {
		return nil, err
	}
	config.Channels = channels
	if a.Frames > 0 {
		config.Scanner.Frames = a.Frames
	}
	a.Config = config
	return config, nil
}

// frameSource picks the frame source from the CLI flags
func (a *App) frameSource(config *mesh.Config) (mesh.FrameSource, error) {
	switch {
	case a.FramesDir != "":
		src, err := mesh.NewDirectoryFrameSource(a.FramesDir)
		if err != nil {
			return nil, err
		}
		log.Printf("Reading %d frames from %s", src.Len(), a.FramesDir)
		return src, nil
	case a.SnapshotURL != "":
		log.Printf("Grabbing frames from %s", a.SnapshotURL)
		return mesh.NewHTTPFrameSource(a.SnapshotURL, config.Scanner.Frames), nil
	}
	return nil, errors.New("no frame source: use --frames or --snapshot")
}

// motionController connects MQTT when enabled and otherwise simulates a
// turntable that follows every move instantly
func (a *App) motionController(config *mesh.Config) (mesh.MotionController, error) {
	if !a.MqttMode {
		axes := max(config.Tracker.AngleAxis, config.Tracker.LinearAxis) + 1
		sim := mesh.NewSimulatedController(axes, a.Tracker)
		sim.Publish()
		log.Println("MQTT disabled, using simulated controller")
		return sim, nil
	}

	mqttClient, err := mesh.InitMQTT(config, mesh.TrackerStatusHandler(a.Tracker))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MQTT: %w", err)
	}
	if mqttClient == nil {
		return nil, errors.New("MQTT broker not configured in config.yaml")
	}
	a.MQTTClient = mqttClient

	a.Publisher = mesh.NewPublisher(mqttClient.GetClient())
	a.Publisher.SetPrefix(config.MQTT.PublishPrefix)
	a.Publisher.SetQoS(config.MQTT.PublishQoS)
	a.Publisher.SetRetain(config.MQTT.RetainProgress)
	fmt.Fprintln(a.Out, "MQTT progress publisher initialized")

	return mesh.NewMQTTMotionController(mqttClient.GetClient(), config.MQTT.CommandTopic), nil
}

// RunScan runs one acquisition session and persists / exports the result
func (a *App) RunScan() error {
	fmt.Fprintln(a.Out, "Starting stripemesh scan...")

	config, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.Tracker = mesh.NewPositionTracker(config.Tracker)

	src, err := a.frameSource(config)
	if err != nil {
		return err
	}
	motion, err := a.motionController(config)
	if err != nil {
		return err
	}
	if a.MQTTClient != nil {
		defer a.MQTTClient.Disconnect()
	}

	a.Scanner = mesh.NewScanner(config, a.Tracker, src, motion)
	if cal, err := mesh.LoadCalibration(a.CalibrationCache); err != nil {
		log.Printf("Warning: Failed to load calibration cache %s: %v", a.CalibrationCache, err)
	} else if cal != nil && cal.Established {
		a.Scanner.SetCalibration(*cal)
		log.Printf("Loaded calibration cache from %s", a.CalibrationCache)
	}

	if a.Publisher != nil {
		a.Scanner.SetHook(a.Publisher.ProgressHook(config.Scanner.Frames))
	}

	var httpServer *http.Server
	if a.HttpMode {
		httpServer = &http.Server{
			Addr:    fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler: newHTTPServer(a.Scanner, a.Publisher, config),
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[HTTP] Server error: %v", err)
			}
		}()
		fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Fprintln(a.Out, "  GET /health       - Health check")
		fmt.Fprintln(a.Out, "  GET /progress     - Scan statistics")
		fmt.Fprintln(a.Out, "  GET /preview.png  - Top view of the point cloud")
		fmt.Fprintln(a.Out, "  GET /preview.svg  - Layer cross-sections")
		fmt.Fprintln(a.Out, "  GET /sections.png - Layer cross-sections (raster)")
		fmt.Fprintln(a.Out, "  GET /strip.png    - Unwrapped stripe image")
		fmt.Fprintln(a.Out, "  GET /points.xyz   - Point cloud")
		fmt.Fprintln(a.Out, "  GET /mesh.stl     - Current mesh")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Scanner.Run(ctx); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if err := a.persist(); err != nil {
		return err
	}
	records := a.Scanner.Accumulator().Snapshot()
	if err := exportAll(a.Export, records, config); err != nil {
		return err
	}

	st := a.Scanner.Stats()
	fmt.Fprintf(a.Out, "Scan %s: %d records, %d points\n", a.Scanner.Accumulator().ID(), st.Records, st.PointsKept)

	if httpServer != nil {
		if ctx.Err() == nil {
			fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")
			<-ctx.Done()
		}
		_ = httpServer.Close()
	}
	return nil
}

// persist writes the session to JSON, the session database and the
// calibration cache, as configured
func (a *App) persist() error {
	cal := a.Scanner.Reconstructor().Calibration
	sess := a.Scanner.Accumulator().Session(cal)

	if a.SessionFile != "" {
		if err := mesh.SaveSession(sess, a.SessionFile); err != nil {
			return err
		}
		log.Printf("Session saved to %s", a.SessionFile)
	}
	if a.DBPath != "" {
		store, err := mesh.OpenSessionStore(a.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.SaveSession(sess); err != nil {
			return err
		}
		log.Printf("Session %s stored in %s", sess.ID, a.DBPath)
	}
	if cal.Established && a.CalibrationCache != "" {
		if err := mesh.SaveCalibration(a.CalibrationCache, &cal); err != nil {
			log.Printf("Warning: could not save calibration cache: %v", err)
		}
	}
	return nil
}

// RunExport loads a stored session and writes the requested exports
func (a *App) RunExport() error {
	config, err := a.loadConfig()
	if err != nil {
		return err
	}
	sess, err := a.loadSession()
	if err != nil {
		return err
	}
	log.Printf("Loaded session %s (%d records)", sess.ID, len(sess.Records))

	records := sess.Records
	if a.Reproject {
		r, err := a.reprojector(sess, config)
		if err != nil {
			return err
		}
		records, err = r.Reproject(records)
		if err != nil {
			return fmt.Errorf("reprojecting session: %w", err)
		}
		log.Printf("Reprojected %d records", len(records))
	}

	if a.Export == "" {
		fmt.Fprintln(a.Out, "Nothing to export: use --export")
		return nil
	}
	return exportAll(a.Export, records, config)
}

// reprojector picks the calibration for re-projecting sess: the session's
// own, else the calibration cache. Configured centre/baseline values that
// disagree with it force a fresh calibration for the session's frame size.
func (a *App) reprojector(sess *mesh.Session, config *mesh.Config) (*mesh.Reconstructor, error) {
	r := mesh.NewReconstructor(config.Reconstruction)
	r.Calibration = sess.Calibration
	if !r.Ready() {
		cal, err := mesh.LoadCalibration(a.CalibrationCache)
		if err != nil {
			return nil, err
		}
		if cal != nil && cal.Established {
			log.Printf("Session has no calibration, using cache %s", a.CalibrationCache)
			r.Calibration = *cal
		}
	}
	if r.Ready() {
		if r.Revalidate(r.Calibration.FrameWidth, r.Calibration.FrameHeight) {
			log.Printf("Configured geometry overrides the stored calibration")
		}
	} else if sess.Calibration.FrameWidth > 0 {
		r.Establish(sess.Calibration.FrameWidth, sess.Calibration.FrameHeight)
	}
	return r, nil
}

// loadSession reads --load as a JSON file, or as a session ID in --db
func (a *App) loadSession() (*mesh.Session, error) {
	if id, err := uuid.Parse(a.Load); err == nil {
		if a.DBPath == "" {
			return nil, errors.New("--load with a session ID needs --db")
		}
		store, err := mesh.OpenSessionStore(a.DBPath)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.LoadSession(id)
	}
	return mesh.LoadSession(a.Load)
}

// RunListSessions prints the sessions stored in the database
func (a *App) RunListSessions() error {
	if a.DBPath == "" {
		return errors.New("--list-sessions needs --db")
	}
	store, err := mesh.OpenSessionStore(a.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.ListSessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(a.Out, "No sessions stored")
		return nil
	}
	for _, s := range sessions {
		fmt.Fprintf(a.Out, "%s  %s  %-6s  %4d records  %6d points\n",
			s.ID, s.StartedAt.Format("2006-01-02 15:04:05"), s.Mode, s.Records, s.Points)
	}
	return nil
}

// RunDeleteSession removes one session from the database
func (a *App) RunDeleteSession() error {
	if a.DBPath == "" {
		return errors.New("--delete-session needs --db")
	}
	id, err := uuid.Parse(a.DeleteSession)
	if err != nil {
		return fmt.Errorf("invalid session ID %q: %w", a.DeleteSession, err)
	}
	store, err := mesh.OpenSessionStore(a.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteSession(id); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Deleted session %s\n", id)
	return nil
}

// RunWriteConfig writes the effective configuration as YAML
func (a *App) RunWriteConfig() error {
	config, err := a.loadConfig()
	if err != nil {
		return err
	}
	if err := mesh.SaveConfig(a.WriteConfig, config); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Configuration written to %s\n", a.WriteConfig)
	return nil
}

// exportAll writes records to every comma-separated path in list. Each
// file's format follows its extension; mesh formats are stitched first.
// Every path is attempted; the first error is returned.
func exportAll(list string, records []mesh.ScanRecord, config *mesh.Config) error {
	var firstErr error
	var built *mesh.Mesh

	for _, path := range strings.Split(list, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		format, err := mesh.FormatFromPath(path)
		if err != nil {
			log.Printf("Warning: skipping export %s: %v", path, err)
			firstErr = keepFirst(firstErr, err)
			continue
		}

		switch {
		case format == mesh.FormatRawCSV:
			err = mesh.ExportRecords(path, records)
		case format == mesh.FormatPNG:
			err = mesh.NewTopViewRenderer(records, config.Reconstruction.MaxRadius).SavePNG(path)
		case format == mesh.FormatGeoJSON:
			err = mesh.ExportGeoJSON(path, mesh.SurfacePointsFromRecords(records), config.Mesh, 0)
		case slices.Contains(mesh.MeshFormats, format):
			if built == nil {
				var stats mesh.MeshStats
				built, stats, err = mesh.BuildMeshFromRecords(records, config.Mesh)
				if err == nil {
					log.Printf("Mesh: %d vertices, %d triangles (%d layers, %d rejected edges)",
						len(built.Vertices), len(built.Triangles), stats.Layers, stats.RejectedEdges)
				}
			}
			if err == nil {
				err = mesh.ExportMesh(path, format, built)
			}
		default:
			err = mesh.ExportPoints(path, format, mesh.PointsFromRecords(records))
		}

		if err != nil {
			log.Printf("Export %s failed: %v", filepath.Base(path), err)
			firstErr = keepFirst(firstErr, err)
			continue
		}
		log.Printf("Exported %s", path)
	}
	return firstErr
}

func keepFirst(first, err error) error {
	if first != nil {
		return first
	}
	return err
}
