package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/relocalize/internal/cloud"
	"github.com/banshee-data/relocalize/internal/confidence"
	"github.com/banshee-data/relocalize/internal/config"
	"github.com/banshee-data/relocalize/internal/graphmap"
	"github.com/banshee-data/relocalize/internal/httputil"
	"github.com/banshee-data/relocalize/internal/ingest"
	"github.com/banshee-data/relocalize/internal/localization"
	"github.com/banshee-data/relocalize/internal/localmap"
	"github.com/banshee-data/relocalize/internal/registration"
	"github.com/banshee-data/relocalize/internal/storage/sqlite"
	"github.com/banshee-data/relocalize/internal/telemetry"
	"github.com/banshee-data/relocalize/internal/version"
)

var (
	listen       = flag.String("listen", ":8082", "HTTP listen address")
	udpPort      = flag.Int("udp-port", 2370, "UDP port to listen for point cloud frames")
	udpAddress   = flag.String("udp-addr", "", "UDP bind address (default: listen on all interfaces)")
	dbFile       = flag.String("db", "map.db", "Path to the SQLite map database file")
	configFile   = flag.String("config", "", "Path to a tuning config JSON file (optional)")
	initPose     = flag.String("init-pose", "", "Initial pose as 'x,y,z,yaw' (optional)")
	mqttBroker   = flag.String("mqtt-broker", "", "MQTT broker URL for pose telemetry (empty disables)")
	mqttClientID = flag.String("mqtt-client-id", "relocalize", "MQTT client ID")
	mqttPrefix   = flag.String("mqtt-prefix", "relocalize", "MQTT topic prefix")
	rcvBuf       = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes (default 4MB)")
	logInterval  = flag.Int("log-interval", 10, "Statistics logging interval in seconds")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

// FrameStats tracks scan throughput for periodic logging.
type FrameStats struct {
	mu        sync.Mutex
	frames    int64
	points    int64
	accepted  int64
	lastReset time.Time
}

func (fs *FrameStats) AddFrame(points int, accepted bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.frames++
	fs.points += int64(points)
	if accepted {
		fs.accepted++
	}
}

func (fs *FrameStats) GetAndReset() (frames, points, accepted int64, duration time.Duration) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	now := time.Now()
	duration = now.Sub(fs.lastReset)
	frames, points, accepted = fs.frames, fs.points, fs.accepted
	fs.frames, fs.points, fs.accepted = 0, 0, 0
	fs.lastReset = now
	return
}

func loadTuning() *config.TuningConfig {
	if *configFile != "" {
		cfg, err := config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		log.Printf("Loaded tuning config from %s", *configFile)
		return cfg
	}
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		cfg, err := config.LoadTuningConfig(config.DefaultConfigPath)
		if err != nil {
			log.Fatalf("Failed to load default tuning config: %v", err)
		}
		log.Printf("Loaded tuning config from %s", config.DefaultConfigPath)
		return cfg
	}
	log.Println("No tuning config file found, using built-in defaults")
	return config.EmptyTuningConfig()
}

func parseInitPose(s string) (cloud.Pose, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return cloud.Pose{}, fmt.Errorf("init-pose needs 4 comma-separated values, got %d", len(parts))
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return cloud.Pose{}, fmt.Errorf("init-pose component %d: %w", i, err)
		}
		vals[i] = v
	}
	return cloud.FromXYZYaw(vals[0], vals[1], vals[2], vals[3]), nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("relocalize %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	log.Printf("Starting relocalize %s (%s)", version.Version, version.GitSHA)

	if *listen == "" {
		log.Fatal("HTTP listen address is required")
	}

	var udpListenAddr string
	if *udpAddress == "" {
		udpListenAddr = fmt.Sprintf(":%d", *udpPort)
	} else {
		udpListenAddr = fmt.Sprintf("%s:%d", *udpAddress, *udpPort)
	}

	tuning := loadTuning()

	// Load the graph map.
	mapDB, err := sqlite.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open map database: %v", err)
	}
	defer mapDB.Close()

	snap, err := mapDB.LoadSnapshot()
	if err != nil {
		log.Fatalf("Failed to load map: %v", err)
	}
	if snap.Len() == 0 {
		log.Printf("Warning: map database %s contains no keyframes", *dbFile)
	}
	maps := graphmap.NewHandle(snap)

	// Wire the pipeline: local map builder, matchers, information
	// matrices, state machine.
	builder := localmap.NewBuilder(localmap.BuilderConfig{
		KeyframeCount: tuning.GetLocalMapKeyframeCount(),
		VoxelLeafSize: tuning.GetLocalMapVoxelLeafSize(),
	}, maps)
	defer builder.Close()

	icp := registration.NewICP(registration.ICPConfig{
		MaxIterations:          tuning.GetICPMaxIterations(),
		MaxCorrespondenceRange: tuning.GetMaxCorrespondenceRange(),
		TranslationEps:         1e-4,
		RotationEps:            1e-4,
		MinMatched:             tuning.GetMinMatchedPoints(),
	})
	search := registration.NewGridSearch(registration.GridSearchConfig{
		LinearStep:             tuning.GetGlobalSearchLinearStep(),
		YawStep:                tuning.GetGlobalSearchYawStepDegrees() * math.Pi / 180,
		KeyframeCount:          tuning.GetGlobalSearchKeyframeCount(),
		MaxCorrespondenceRange: tuning.GetMaxCorrespondenceRange(),
		FitnessThreshold:       tuning.GetFitnessScoreThreshold(),
		ScanVoxelLeaf:          tuning.GetScanVoxelLeafSize(),
	}, maps)

	matrices := confidence.NewBuilder(confidence.MatrixParams{
		UseConst:      tuning.GetUseConstInformationMatrix(),
		ConstStddevX:  tuning.GetConstStddevTranslation(),
		ConstStddevQ:  tuning.GetConstStddevRotation(),
		Gain:          tuning.GetAdaptiveGain(),
		MinStddevX:    tuning.GetMinStddevTranslation(),
		MaxStddevX:    tuning.GetMaxStddevTranslation(),
		MinStddevQ:    tuning.GetMinStddevRotation(),
		MaxStddevQ:    tuning.GetMaxStddevRotation(),
		FitnessThresh: tuning.GetFitnessScoreThreshold(),
	})

	svc := localization.NewService(localization.Config{
		FitnessThreshold:       tuning.GetFitnessScoreThreshold(),
		MaxCorrespondenceRange: tuning.GetMaxCorrespondenceRange(),
		FailureCountThreshold:  tuning.GetFailureCountThreshold(),
		INSSearchRadius:        tuning.GetINSSearchRadius(),
		RelocalizeSearchRadius: tuning.GetRelocalizeSearchRadius(),
		HistoryLength:          tuning.GetPoseHistoryLength(),
	}, icp, search, builder, matrices)

	// Optional MQTT telemetry.
	mqttClient, err := telemetry.Connect(*mqttBroker, *mqttClientID)
	if err != nil {
		log.Fatalf("Failed to connect to MQTT: %v", err)
	}
	if mqttClient != nil {
		defer mqttClient.Disconnect(250)
		publisher := telemetry.NewPosePublisher(mqttClient, *mqttPrefix)
		svc.OnEstimate(func(est localization.Estimate) {
			if err := publisher.PublishEstimate(est); err != nil {
				log.Printf("Failed to publish pose: %v", err)
			}
		})
	}

	if *initPose != "" {
		pose, err := parseInitPose(*initPose)
		if err != nil {
			log.Fatalf("Invalid -init-pose: %v", err)
		}
		svc.SetInitialPose(pose)
		log.Printf("Initial pose set from flag: %s", *initPose)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// UDP scan listener.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := listenUDP(ctx, svc, udpListenAddr); err != nil && err != context.Canceled {
			log.Printf("UDP listener error: %v", err)
		}
		log.Print("UDP listener routine terminated")
	}()

	// HTTP API.
	wg.Add(1)
	go func() {
		defer wg.Done()
		runHTTP(ctx, svc, tuning, maps)
	}()

	wg.Wait()
	log.Println("Shutdown complete")
}

// listenUDP receives point cloud frames and feeds them to the state
// machine until the context is cancelled.
func listenUDP(ctx context.Context, svc *localization.Service, address string) error {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	defer conn.Close()

	if err := conn.SetReadBuffer(*rcvBuf); err != nil {
		log.Printf("Warning: failed to set UDP receive buffer to %d bytes: %v", *rcvBuf, err)
	}
	log.Printf("Listening for point cloud frames on %s", address)

	stats := &FrameStats{lastReset: time.Now()}
	go func() {
		ticker := time.NewTicker(time.Duration(*logInterval) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				frames, points, accepted, duration := stats.GetAndReset()
				if frames > 0 {
					log.Printf("Scan stats (/sec): %.1f frames, %.0f points, %d/%d accepted, state=%s",
						float64(frames)/duration.Seconds(), float64(points)/duration.Seconds(),
						accepted, frames, svc.State())
				}
			}
		}
	}()

	buffer := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			log.Println("UDP listener shutting down")
			return ctx.Err()
		default:
			if err := conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
				log.Printf("Error setting read deadline: %v", err)
				continue
			}
			n, _, err := conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				log.Printf("Error reading UDP packet: %v", err)
				continue
			}

			pc, err := ingest.DecodeFrame(buffer[:n])
			if err != nil {
				log.Printf("Dropping malformed frame: %v", err)
				continue
			}
			_, ok := svc.FeedCloud(pc)
			stats.AddFrame(pc.Len(), ok)
		}
	}
}

// runHTTP serves the query API until the context is cancelled.
func runHTTP(ctx context.Context, svc *localization.Service, tuning *config.TuningConfig, maps *graphmap.Handle) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, map[string]string{
			"status":    "ok",
			"service":   "relocalize",
			"version":   version.Version,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/api/pose", func(w http.ResponseWriter, r *http.Request) {
		pose, err := svc.Pose()
		if err != nil {
			httputil.NotFound(w, err.Error())
			return
		}
		x, y, z := pose.Translation()
		httputil.WriteJSONOK(w, map[string]any{
			"x": x, "y": y, "z": z, "yaw": pose.Yaw(),
		})
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		var keyframes int
		if snap := maps.Load(); snap != nil {
			keyframes = snap.Len()
		}
		httputil.WriteJSONOK(w, map[string]any{
			"state":       svc.State().String(),
			"initialized": svc.Initialized(),
			"failures":    svc.FailureCount(),
			"keyframes":   keyframes,
		})
	})

	mux.HandleFunc("/api/params", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, tuning)
	})

	mux.HandleFunc("/api/initial-pose", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		var req struct {
			X   float64 `json:"x"`
			Y   float64 `json:"y"`
			Z   float64 `json:"z"`
			Yaw float64 `json:"yaw"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		svc.SetInitialPose(cloud.FromXYZYaw(req.X, req.Y, req.Z, req.Yaw))
		w.WriteHeader(http.StatusAccepted)
	})

	server := &http.Server{
		Addr:    *listen,
		Handler: mux,
	}

	go func() {
		log.Printf("Starting HTTP server on %s", *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	log.Print("HTTP server terminated")
}
