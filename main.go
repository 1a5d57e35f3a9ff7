package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
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
	ListSessions     bool
	DeleteSession    string
	WriteConfig      string
	MqttMode         bool
	HttpMode         bool
	HttpPort         int
}

// Runner is what main dispatches to
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunScan() error
	RunExport() error
	RunListSessions() error
	RunDeleteSession() error
	RunWriteConfig() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatal(err)
	}
}

// run parses args and invokes the matching mode on app
func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("stripemesh", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.CalibrationCache, "calibration-cache", ".calibration-cache.json", "Path to image calibration cache file")
	fs.StringVar(&opts.FramesDir, "frames", "", "Scan frames from a directory of images (offline, simulated turntable unless --mqtt)")
	fs.StringVar(&opts.SnapshotURL, "snapshot", "", "Scan frames from a camera snapshot URL")
	fs.IntVar(&opts.Frames, "n", 0, "Override the number of frames to capture")
	fs.StringVar(&opts.Channels, "channels", "", "Comma-separated laser channels to use (default: all configured)")
	fs.StringVar(&opts.Export, "export", "", "Comma-separated output files; format from extension (xyz, csv, ply, obj, stl, k, raw, geojson, png)")
	fs.StringVar(&opts.SessionFile, "session", "", "Write the scanned session as JSON (read it back with --load)")
	fs.StringVar(&opts.DBPath, "db", "", "SQLite session database")
	fs.StringVar(&opts.Load, "load", "", "Load a stored session (JSON path or session ID in --db) and export it")
	fs.BoolVar(&opts.Reproject, "reproject", false, "Recompute points from stored pixels (session calibration, else the cache; configured centre/baseline win)")
	fs.BoolVar(&opts.ListSessions, "list-sessions", false, "List sessions stored in --db")
	fs.StringVar(&opts.DeleteSession, "delete-session", "", "Delete the session with this ID from --db")
	fs.StringVar(&opts.WriteConfig, "write-config", "", "Write the effective configuration (file, defaults and overrides) as YAML to this path")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Track the controller and send moves over MQTT")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve scan progress and previews over HTTP")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port (default 8080)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "stripemesh version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.WriteConfig != "":
		return app.RunWriteConfig()
	case opts.ListSessions:
		return app.RunListSessions()
	case opts.DeleteSession != "":
		return app.RunDeleteSession()
	case opts.Load != "":
		return app.RunExport()
	case opts.FramesDir != "" || opts.SnapshotURL != "":
		return app.RunScan()
	}

	fmt.Fprintln(out, "stripemesh scanner ready")
	fmt.Fprintln(out, "Use --frames DIR to scan a directory of frames")
	fmt.Fprintln(out, "Use --snapshot URL to scan from a camera snapshot endpoint")
	fmt.Fprintln(out, "Use --mqtt to drive the controller over MQTT")
	fmt.Fprintln(out, "Use --http to serve progress and previews while scanning")
	fmt.Fprintln(out, "Use --load SESSION --export FILE to re-export a stored scan")
	fmt.Fprintln(out, "Use --db FILE --list-sessions to list stored scans")
	fmt.Fprintln(out, "Use --db FILE --delete-session ID to remove a stored scan")
	fmt.Fprintln(out, "Use --write-config FILE to dump the effective configuration")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - scanner, channels, mesh and MQTT settings")
	fmt.Fprintln(out, "  .calibration-cache.json - established image calibration (cached)")
	return nil
}
