package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"net/url"
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
	"github.com/aukilabs/quadseg/featureflag"
	"github.com/aukilabs/quadseg/grid"
	qhttp "github.com/aukilabs/quadseg/http"
	"github.com/aukilabs/quadseg/models"
	"github.com/aukilabs/quadseg/pipeline"
	"github.com/aukilabs/quadseg/quadtree"
	"github.com/aukilabs/quadseg/receipt"
	"github.com/aukilabs/quadseg/smoketest"
	qwebsocket "github.com/aukilabs/quadseg/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var (
	// The Quadseg version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "quadseg_info",
		Help:        "Quadseg information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string        `cli:""        env:"QUADSEG_ADDR"                 help:"Listening address for client requests."`
	AdminAddr          string        `cli:""        env:"QUADSEG_ADMIN_ADDR"           help:"Admin listening address."`
	PublicEndpoint     string        `cli:""        env:"QUADSEG_PUBLIC_ENDPOINT"      help:"The public endpoint where this Quadseg server is reachable."`
	LogLevel           string        `cli:""        env:"QUADSEG_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"QUADSEG_LOG_INDENT"           help:"Indent logs."`
	Threshold          float64       `cli:""        env:"QUADSEG_THRESHOLD"            help:"The intensity range from which a region is split."`
	LinkTolerance      int           `cli:""        env:"QUADSEG_LINK_TOLERANCE"       help:"The average intensity difference under which adjacent leaves are linked. Negative disables linking."`
	Fit                bool          `cli:""        env:"QUADSEG_FIT"                  help:"Crop images to the largest power-of-two square instead of rejecting them."`
	DisplaySize        int           `cli:""        env:"QUADSEG_DISPLAY_SIZE"         help:"The side of the written output image. Zero keeps the input size."`
	Input              string        `cli:""        env:"-"                            help:"Image to segment. Runs a single segmentation and exits when set."`
	Output             string        `cli:""        env:"-"                            help:"Where the segmented image is written when an input is given."`
	MaxNodes           int           `cli:",hidden" env:"QUADSEG_MAX_NODES"            help:"The maximum number of nodes of a tree. Zero disables the limit."`
	MaxConcurrent      int           `cli:",hidden" env:"QUADSEG_MAX_CONCURRENT"       help:"The maximum number of segmentations run at once. Zero disables the limit."`
	MaxBodySize        int64         `cli:",hidden" env:"QUADSEG_MAX_BODY_SIZE"        help:"The maximum size of an uploaded image."`
	MaxFrameSize       int           `cli:",hidden" env:"QUADSEG_MAX_FRAME_SIZE"       help:"The maximum size of a streamed frame."`
	StoreCapacity      int           `cli:",hidden" env:"QUADSEG_STORE_CAPACITY"       help:"The number of segmentations kept in memory."`
	ClientIdleTimeout  time.Duration `cli:",hidden" env:"QUADSEG_CLIENT_IDLE_TIMEOUT"  help:"Time until an idle streaming client will be disconnected."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"QUADSEG_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
	PrivateKey         string        `cli:""        env:"QUADSEG_PRIVATE_KEY"          help:"The private key of an Ethereum-compatible wallet used to sign receipts."`
	PrivateKeyFile     string        `cli:""        env:"QUADSEG_PRIVATE_KEY_FILE"     help:"The file that contains the private key used to sign receipts."`
	Token              string        `cli:",hidden" env:"QUADSEG_TOKEN"                help:"Bearer token required by administrative endpoints."`
	Events             eventsConfig  `cli:",hidden" env:"-"                            help:"Event pusher configuration."`
	FeatureFlags       []string      `cli:",hidden" env:"QUADSEG_FEATURE_FLAGS"        help:"Comma separated feature flags"`
	Version            bool          `cli:""        env:"-"                            help:"Show version."`
	Help               bool          `cli:""        env:"-"                            help:"Show help."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"QUADSEG_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"QUADSEG_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"QUADSEG_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"QUADSEG_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:               ":4000",
		AdminAddr:          ":18190",
		PublicEndpoint:     "http://localhost:4000",
		LogLevel:           logs.InfoLevel.String(),
		Threshold:          quadtree.DefaultThreshold,
		LinkTolerance:      -1,
		Output:             "QuadTreeSegmentation.tif",
		MaxNodes:           1 << 22,
		MaxBodySize:        qhttp.DefaultMaxBodySize,
		StoreCapacity:      models.DefaultStoreCapacity,
		ClientIdleTimeout:  qwebsocket.DefaultIdleTimeout,
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
		Help("Segments grayscale images with a region quadtree.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	signer, err := loadSigner(conf)
	if err != nil {
		logs.Fatal(errors.New("error loading private key").Wrap(err))
	}

	flags := featureflag.New(conf.FeatureFlags)
	segmenter := &pipeline.Segmenter{
		MaxNodes:      conf.MaxNodes,
		MaxConcurrent: conf.MaxConcurrent,
		Signer:        signer,
		FeatureFlags:  flags,
	}
	opts := pipeline.Options{
		Threshold:     conf.Threshold,
		LinkTolerance: conf.LinkTolerance,
		Fit:           conf.Fit,
	}

	if conf.Input != "" {
		if conf.DisplaySize == 0 {
			conf.DisplaySize = 512
		}
		opts.DisplaySize = conf.DisplaySize

		if err := segmentFile(ctx, segmenter, opts, conf.Input, conf.Output); err != nil {
			logs.Fatal(err)
		}
		return
	}
	opts.DisplaySize = conf.DisplaySize

	transport := metrics.HTTPTransport(http.DefaultTransport)

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     transport,
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "quadseg",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	var ready atomic.Bool
	readinessCheck := ready.Load

	store := &models.SegmentationStore{Capacity: conf.StoreCapacity}

	var service http.ServeMux

	segmentations := qhttp.SegmentationHandler{
		Segmenter:    segmenter,
		Store:        store,
		FeatureFlags: flags,
		Options:      opts,
		MaxBodySize:  conf.MaxBodySize,
		Token:        conf.Token,
	}
	segmentations.Register(&service)

	service.Handle("/health", qhttp.HandleWithCORS(http.HandlerFunc(qhttp.HandleHealthCheck)))
	service.Handle("/version", qhttp.HandleWithCORS(qhttp.HandleVersion(version)))
	service.Handle("/ready", qhttp.HandleWithCORS(qhttp.HandleReadyCheck(readinessCheck)))

	service.Handle("/smoke-test", qhttp.VerifyTokenHandler(conf.Token, smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Endpoint:  conf.PublicEndpoint,
		UserAgent: fmt.Sprintf("Quadseg %s", version),
		Transport: transport,
		SendResult: func(ctx context.Context, res smoketest.Result) error {
			logs.WithTag("from_endpoint", res.FromEndpoint).
				WithTag("to_endpoint", res.ToEndpoint).
				WithTag("status", res.Status).
				WithTag("latency_ms", res.LatencyMilliSec).
				WithTag("segmentation_id", res.SegmentationID).
				Info("smoke test completed")
			return nil
		},
	})))

	if flags.IsSet(featureflag.FlagDisableStreaming) {
		logs.WithTag("feature_flag", featureflag.FlagDisableStreaming).
			Info("streaming disabled")
	} else {
		service.Handle("/stream", qhttp.HandleWithCORS(websocket.Server{
			Handler: func(conn *websocket.Conn) {
				defer conn.Close()

				var h qwebsocket.Handler = &qwebsocket.StreamHandler{
					Segmenter:         segmenter,
					Store:             store,
					Options:           opts,
					ClientIdleTimeout: conf.ClientIdleTimeout,
					MaxFrameSize:      conf.MaxFrameSize,
				}
				h = qwebsocket.HandlerWithLogs(h, conf.LogSummaryInterval)
				h = qwebsocket.HandlerWithMetrics(h, conf.PublicEndpoint)
				defer h.Close()

				qwebsocket.Handle(ctx, conn, h)
			},
		}))
	}

	service.Handle("/ping", websocket.Server{
		Handler: func(ws *websocket.Conn) {
			defer ws.Close()
			io.Copy(ws, ws)
		},
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", qhttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", qhttp.HandleReadyCheck(readinessCheck))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("threshold", conf.Threshold).
		WithTag("wallet_address", signer.Address()).
		WithTag("feature_flags", flags.List()).
		Info("starting quadseg server")

	ready.Store(true)
	qhttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			qhttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
}

func segmentFile(ctx context.Context, s *pipeline.Segmenter, opts pipeline.Options, input, output string) error {
	format, err := grid.FormatFromPath(output)
	if err != nil {
		return err
	}

	in, err := os.Open(input)
	if err != nil {
		return errors.New("opening input failed").
			WithTag("input", input).
			Wrap(err)
	}
	defer in.Close()

	seg, err := s.SegmentImage(ctx, in, opts)
	if err != nil {
		return errors.New("segmenting input failed").
			WithTag("input", input).
			Wrap(err)
	}

	out, err := os.Create(output)
	if err != nil {
		return errors.New("creating output failed").
			WithTag("output", output).
			Wrap(err)
	}
	defer out.Close()

	if err := grid.Encode(out, seg.Output, format); err != nil {
		return errors.New("writing output failed").
			WithTag("output", output).
			Wrap(err)
	}

	logs.WithTag("input", input).
		WithTag("output", output).
		WithTag("depth", seg.Depth).
		WithTag("leaves", seg.LeafCount).
		WithTag("mean_leaf_size", seg.Stats.MeanLeafSize).
		WithTag("elapsed", seg.Elapsed).
		Info("segmented image written")
	return nil
}

func loadSigner(conf config) (*receipt.Signer, error) {
	if len(conf.PrivateKey) == 0 && len(conf.PrivateKeyFile) == 0 {
		logs.WithTag("reason", "no private key configured").
			Warn("receipts are signed with an ephemeral key")
		return receipt.NewEphemeralSigner()
	}

	privateKey, err := receipt.LoadPrivateKey(conf.PrivateKey, conf.PrivateKeyFile)
	if err != nil {
		return nil, err
	}
	return &receipt.Signer{PrivateKey: privateKey}, nil
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if len(conf.PrivateKey) != 0 &&
		len(conf.PrivateKeyFile) != 0 {
		return errors.New("have to specify either private key or private key file, not both")
	}

	if err := (quadtree.Config{Threshold: conf.Threshold, MaxNodes: conf.MaxNodes}).Validate(); err != nil {
		return errors.New("invalid segmentation config").Wrap(err)
	}

	if err := (pipeline.Options{Threshold: conf.Threshold, DisplaySize: conf.DisplaySize}).Validate(); err != nil {
		return errors.New("invalid segmentation options").Wrap(err)
	}

	return nil
}
