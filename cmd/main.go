package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"os"
	"reflect"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/pointcloud-viewer/dispatch"
	"github.com/aukilabs/pointcloud-viewer/downsample"
	"github.com/aukilabs/pointcloud-viewer/featureflag"
	viewerhttp "github.com/aukilabs/pointcloud-viewer/http"
	"github.com/aukilabs/pointcloud-viewer/pcd"
	vwebsocket "github.com/aukilabs/pointcloud-viewer/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
	"golang.org/x/sync/errgroup"
)

var (
	// The viewer host version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "pointcloud_viewer_info",
		Help:        "Point cloud viewer host information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string        `cli:""        env:"VIEWER_ADDR"                 help:"Listening address for viewer connections."`
	AdminAddr          string        `cli:""        env:"VIEWER_ADMIN_ADDR"           help:"Admin listening address."`
	PCDFile            string        `cli:""        env:"VIEWER_PCD_FILE"             help:"The PCD file sent to connected viewers."`
	MaxPoints          int           `cli:""        env:"VIEWER_MAX_POINTS"           help:"The maximum number of points sent in a point cloud."`
	Strategy           string        `cli:""        env:"VIEWER_STRATEGY"             help:"Downsampling strategy (none|random|voxel)."`
	VoxelSize          float64       `cli:""        env:"VIEWER_VOXEL_SIZE"           help:"The voxel edge length used by the voxel strategy."`
	ReplyTimeout       time.Duration `cli:",hidden" env:"VIEWER_REPLY_TIMEOUT"        help:"The maximum time to wait for a viewer reply."`
	MaxInFlight        int           `cli:",hidden" env:"VIEWER_MAX_IN_FLIGHT"        help:"The maximum number of commands waiting for a reply."`
	CommandRate        float64       `cli:",hidden" env:"VIEWER_COMMAND_RATE"         help:"The maximum number of commands sent per second."`
	ConnectTimeout     time.Duration `cli:""        env:"VIEWER_CONNECT_TIMEOUT"      help:"The maximum time to wait for the first viewer to connect."`
	LogLevel           string        `cli:""        env:"VIEWER_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"VIEWER_LOG_INDENT"           help:"Indent logs."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"VIEWER_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
	Events             eventsConfig  `cli:",hidden" env:"-"                           help:"Event pusher configuration."`
	FeatureFlags       []string      `cli:",hidden" env:"VIEWER_FEATURE_FLAGS"        help:"Comma separated feature flags"`
	Version            bool          `cli:""        env:"-"                           help:"Show version."`
	Help               bool          `cli:""        env:"-"                           help:"Show help."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"VIEWER_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed. Disabled when empty."`
	FlushInterval time.Duration `cli:",hidden" env:"VIEWER_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"VIEWER_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"VIEWER_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:               ":8081",
		AdminAddr:          ":18191",
		MaxPoints:          65536,
		Strategy:           downsample.VoxelGrid.String(),
		VoxelSize:          0.01,
		ReplyTimeout:       time.Second * 30,
		MaxInFlight:        16,
		ConnectTimeout:     time.Minute * 5,
		LogLevel:           logs.InfoLevel.String(),
		LogSummaryInterval: time.Minute,
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Streams a point cloud to a remote viewer.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	strategy, err := validateConfig(conf)
	if err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     metrics.HTTPTransport(http.DefaultTransport),
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "pointcloud-viewer",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	points, err := pcd.ReadFile(conf.PCDFile)
	if err != nil {
		logs.Fatal(errors.New("loading point cloud failed").
			WithTag("file_name", conf.PCDFile).
			Wrap(err))
	}
	s := newScene(points)

	var connected atomic.Bool
	readinessCheck := connected.Load

	listener := &vwebsocket.Listener{
		Wrap: func(ch dispatch.Channel, conn *websocket.Conn) dispatch.Channel {
			ch = vwebsocket.ChannelWithLogs(ch, vwebsocket.ClientID(conn), conf.LogSummaryInterval)
			return vwebsocket.ChannelWithMetrics(ch, conf.Addr)
		},
	}
	defer listener.Close()

	var service http.ServeMux
	service.Handle("/", viewerhttp.HandleWithCORS(listener))
	service.Handle("/health", viewerhttp.HandleWithCORS(http.HandlerFunc(viewerhttp.HandleHealthCheck)))
	service.Handle("/version", viewerhttp.HandleWithCORS(viewerhttp.HandleVersion(version)))
	service.Handle("/ready", viewerhttp.HandleWithCORS(viewerhttp.HandleReadyCheck(readinessCheck)))
	service.Handle("/ping", websocket.Server{
		Handler: func(ws *websocket.Conn) {
			defer ws.Close()
			io.Copy(ws, ws)
		},
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", viewerhttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", viewerhttp.HandleReadyCheck(readinessCheck))

	flags := featureflag.New(conf.FeatureFlags)
	for _, flag := range flags.Unknown() {
		logs.Warn(errors.New("unknown feature flag").WithTag("flag", flag))
	}

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("addr", conf.Addr).
		WithTag("pcd_file", conf.PCDFile).
		WithTag("points", s.cloud.Len()).
		WithTag("strategy", strategy.String()).
		Info("starting point cloud viewer host")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return viewerhttp.ListenAndServe(ctx,
			&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
				viewerhttp.MetricsPathFormatter)},
			&http.Server{Addr: conf.AdminAddr, Handler: &admin},
		)
	})

	g.Go(func() error {
		return serveViewers(ctx, listener, serveOptions{
			Scene:          s,
			Strategy:       strategy,
			MaxPoints:      conf.MaxPoints,
			ConnectTimeout: conf.ConnectTimeout,
			Dispatch: dispatch.Config{
				ReplyTimeout: conf.ReplyTimeout,
				MaxInFlight:  conf.MaxInFlight,
				CommandRate:  conf.CommandRate,
			},
			FeatureFlags: flags,
			Connected:    &connected,
		})
	})

	if err := g.Wait(); err != nil {
		logs.Fatal(err)
	}
}

func validateConfig(conf config) (downsample.Strategy, error) {
	if conf.PCDFile == "" {
		return downsample.Strategy{}, errors.New("pcd file is required")
	}

	if conf.MaxPoints < 1 {
		return downsample.Strategy{}, errors.New("max points must be at least 1").
			WithTag("max_points", conf.MaxPoints)
	}

	strategy, err := downsample.ParseStrategy(conf.Strategy, conf.VoxelSize)
	if err != nil {
		return downsample.Strategy{}, errors.New("invalid downsampling strategy").Wrap(err)
	}

	if conf.LogSummaryInterval <= 0 {
		return downsample.Strategy{}, errors.New("log summary interval must be positive").
			WithTag("log_summary_interval", conf.LogSummaryInterval)
	}

	if conf.MaxInFlight < 0 || conf.CommandRate < 0 || conf.ReplyTimeout < 0 {
		return downsample.Strategy{}, errors.New("dispatch limits must not be negative")
	}

	return strategy, nil
}
