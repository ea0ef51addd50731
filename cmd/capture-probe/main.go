package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/e7canasta/orion-kiosk-bridge/modules/devices"
	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
	streamcapture "github.com/e7canasta/orion-kiosk-bridge/modules/stream-capture"
	videosink "github.com/e7canasta/orion-kiosk-bridge/modules/video-sink"
)

const version = "v0.2.0"

func main() {
	cameraID := flag.String("camera", "", "Camera id (CSI, USB:<n>); empty picks CSI, then the first USB camera")
	width := flag.Int("width", 640, "Capture width")
	height := flag.Int("height", 480, "Capture height")
	fps := flag.Int("fps", 15, "Capture frame rate (1-60)")
	duration := flag.Duration("duration", 0, "Capture duration (0 = list devices only)")
	prefs := flag.String("prefs", strings.Join(devices.DefaultPreferences, ","), "Audio device name preferences, comma separated")
	outputDir := flag.String("output", "", "Directory to save PNG snapshots (optional)")
	snapshotEvery := flag.Int("snapshot-every", 30, "Save every Nth frame when -output is set")
	colorRange := flag.String("color-range", "limited", "Color range for snapshots: limited, full")
	statsInterval := flag.Int("stats-interval", 5, "Seconds between stats reports")
	skipWarmup := flag.Bool("skip-warmup", false, "Skip frame cadence warmup")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("capture-probe %s\n", version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	enum := devices.NewSystemEnumerator()

	// Audio devices and the selector's choice
	capture, err := enum.ListCaptureDevices(ctx)
	if err != nil {
		slog.Warn("capture device listing failed", "error", err)
	}
	playback, err := enum.ListPlaybackDevices(ctx)
	if err != nil {
		slog.Warn("playback device listing failed", "error", err)
	}
	sel := devices.NewSelector(strings.Split(*prefs, ",")...).SelectRoles(capture, playback)

	fmt.Printf("\nAudio capture devices:\n")
	printDevices(capture, sel.Capture)
	fmt.Printf("\nAudio playback devices:\n")
	printDevices(playback, sel.Playback)
	fmt.Printf("\nSelected: capture=%s playback=%s\n", sel.CaptureID("default"), sel.PlaybackID("default"))

	cams, err := enum.ListCameras(ctx)
	if err != nil {
		slog.Warn("camera detection failed", "error", err)
	}
	fmt.Printf("\nCameras:\n")
	if len(cams) == 0 {
		fmt.Printf("  (none)\n")
	}
	for _, c := range cams {
		fmt.Printf("  %-8s %s\n", c.ID, c.Name)
	}

	if *duration <= 0 {
		fmt.Printf("\n")
		return
	}

	cam, ok := devices.PickCamera(cams, *cameraID)
	if !ok {
		log.Fatalf("No camera to capture from")
	}
	if *cameraID != "" && cam.ID != *cameraID {
		log.Fatalf("Camera %s not detected", *cameraID)
	}

	var saver *snapshotSaver
	if *outputDir != "" {
		if err := os.MkdirAll(*outputDir, 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
		rng, err := videosink.ParseColorRange(*colorRange)
		if err != nil {
			log.Fatalf("Invalid color range: %v", err)
		}
		if saver, err = newSnapshotSaver(*outputDir, rng); err != nil {
			log.Fatalf("Failed to create snapshot sink: %v", err)
		}
	}

	// Frames are only valid during the push; keep a copy for the saver.
	frames := make(chan *media.VideoFrame, 1)
	pusher := streamcapture.VideoPusherFunc(func(f *media.VideoFrame) error {
		if saver == nil || *snapshotEvery <= 0 || f.Seq%uint64(*snapshotEvery) != 0 {
			return nil
		}
		select {
		case frames <- f.Clone():
		default:
		}
		return nil
	})

	worker, err := streamcapture.NewCameraCapture(streamcapture.NewGStreamerCamera(), pusher, streamcapture.CameraConfig{
		Format: streamcapture.VideoFormat{Width: *width, Height: *height, FPS: *fps},
		Report: func(source string, err error) {
			slog.Error("capture failure", "source", source, "error", err)
		},
	})
	if err != nil {
		log.Fatalf("Failed to create camera worker: %v", err)
	}

	fmt.Printf("\nCapturing from %s (%s) at %dx%d@%d for %s\n", cam.ID, cam.Name, *width, *height, *fps, *duration)

	if err := worker.Configure(cam); err != nil {
		log.Fatalf("Failed to configure camera: %v", err)
	}
	if err := worker.Start(ctx); err != nil {
		log.Fatalf("Failed to start camera: %v", err)
	}

	runCtx, runCancel := context.WithTimeout(ctx, *duration)
	defer runCancel()

	if !*skipWarmup {
		warmup := 5 * time.Second
		if *duration < warmup {
			warmup = *duration
		}
		ws, err := worker.Warmup(runCtx, warmup)
		if ws != nil {
			printWarmup(ws)
		}
		if err != nil {
			slog.Warn("warmup", "error", err)
		}
	}

	start := time.Now()
	ticker := time.NewTicker(time.Duration(*statsInterval) * time.Second)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case f := <-frames:
			path, err := saver.save(f)
			if err != nil {
				slog.Error("failed to save snapshot", "seq", f.Seq, "error", err)
				continue
			}
			slog.Debug("snapshot saved", "path", path)
		case <-ticker.C:
			printStats(worker.Stats(), time.Since(start))
		}
	}

	if err := worker.Stop(); err != nil {
		slog.Error("error stopping camera", "error", err)
	}

	final := worker.Stats()
	fmt.Printf("\n═══════════════════════════════════════════════════════════\n")
	fmt.Printf("  Total Uptime:       %s\n", time.Since(start).Round(time.Second))
	fmt.Printf("  Frames Captured:    %d frames\n", final.FrameCount)
	fmt.Printf("  Pull Timeouts:      %d\n", final.Timeouts)
	fmt.Printf("  Transient Errors:   %d\n", final.TransientErrors)
	if saver != nil {
		fmt.Printf("  Snapshots Saved:    %d\n", saver.saved)
	}
	fmt.Printf("═══════════════════════════════════════════════════════════\n\n")
}

func printDevices(devs []media.DeviceInfo, selected *media.DeviceInfo) {
	if len(devs) == 0 {
		fmt.Printf("  (none)\n")
	}
	for _, d := range devs {
		mark := " "
		if selected != nil && selected.ID == d.ID {
			mark = "*"
		}
		fmt.Printf(" %s %-8s %s\n", mark, d.ID, d.Name)
	}
}

func printWarmup(ws *streamcapture.WarmupStats) {
	fmt.Printf("\n")
	fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
	fmt.Printf("│ Warmup Complete\n")
	fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
	fmt.Printf("│ Frames Received:    %6d frames\n", ws.FramesReceived)
	fmt.Printf("│ Duration:           %6.1f seconds\n", ws.Duration.Seconds())
	fmt.Printf("│ FPS Mean:           %6.2f fps\n", ws.FPSMean)
	fmt.Printf("│ FPS StdDev:         %6.2f fps\n", ws.FPSStdDev)
	fmt.Printf("│ FPS Range:          %6.1f - %.1f fps\n", ws.FPSMin, ws.FPSMax)
	fmt.Printf("│ Jitter Mean:        %6.3f s\n", ws.JitterMean)
	fmt.Printf("│ Jitter Max:         %6.3f s\n", ws.JitterMax)
	fmt.Printf("│ Stable:             %6v\n", ws.IsStable)
	fmt.Printf("╰─────────────────────────────────────────────────────────╯\n")
}

func printStats(s streamcapture.CameraStats, uptime time.Duration) {
	fmt.Printf("\n")
	fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
	fmt.Printf("│ Camera %s (Uptime: %s)\n", s.Camera, uptime.Round(time.Second))
	fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
	fmt.Printf("│ State:              %6s\n", s.State)
	fmt.Printf("│ Frames Captured:    %6d frames\n", s.FrameCount)
	fmt.Printf("│ Real FPS:           %6.2f fps\n", s.FPSReal)
	fmt.Printf("│ Last Frame:         %6d ms ago\n", s.LatencyMS)
	fmt.Printf("│ Pull Timeouts:      %6d\n", s.Timeouts)
	fmt.Printf("╰─────────────────────────────────────────────────────────╯\n")
}

// snapshotSaver converts frames through a CPU sink and writes them as PNG.
type snapshotSaver struct {
	dir   string
	sink  *videosink.SinkAdapter
	saved int
}

func newSnapshotSaver(dir string, rng videosink.ColorRange) (*snapshotSaver, error) {
	sink, err := videosink.New(videosink.Config{Name: "probe", Mode: videosink.ModeCPU, ColorRange: rng})
	if err != nil {
		return nil, err
	}
	return &snapshotSaver{dir: dir, sink: sink}, nil
}

func (s *snapshotSaver) save(f *media.VideoFrame) (string, error) {
	if err := s.sink.OnFrame(f); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, fmt.Sprintf("frame_%06d_%s.png", f.Seq, time.Now().Format("20060102_150405.000")))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := s.sink.Snapshot(file); err != nil {
		return "", err
	}
	s.saved++
	return path, nil
}
