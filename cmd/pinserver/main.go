package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"

	pinindex "gopinindex"
	"gopinindex/pinstore"
)

var (
	// The pinserver version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "pinserver_info",
		Help:        "Pinserver information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

var _ = reflect.TypeOf(config{})

type config struct {
	Addr              string        `cli:""        env:"PINSERVER_ADDR"               help:"Listening address for client connections."`
	AdminAddr         string        `cli:""        env:"PINSERVER_ADMIN_ADDR"         help:"Admin listening address."`
	LogLevel          string        `cli:""        env:"PINSERVER_LOG_LEVEL"          help:"Log level (debug|info|warning|error)."`
	LogIndent         bool          `cli:""        env:"PINSERVER_LOG_INDENT"         help:"Indent logs."`
	ClusteringEnabled bool          `cli:""        env:"PINSERVER_CLUSTERING_ENABLED" help:"Group dense tiles into clusters."`
	ClusterThreshold  int           `cli:""        env:"PINSERVER_CLUSTER_THRESHOLD"  help:"The number of pins a tile holds before it is clustered."`
	SnapshotFile      string        `cli:""        env:"PINSERVER_SNAPSHOT_FILE"      help:"The file where pins are persisted. Empty disables snapshots."`
	SnapshotInterval  time.Duration `cli:",hidden" env:"PINSERVER_SNAPSHOT_INTERVAL"  help:"The duration between each snapshot."`
	FrameDuration     time.Duration `cli:",hidden" env:"PINSERVER_FRAME_DURATION"     help:"The duration between each stream frame."`
	Version           bool          `cli:""        env:"-"                            help:"Show version."`
	Help              bool          `cli:""        env:"-"                            help:"Show help."`
}

func main() {
	conf := config{
		Addr:              ":4000",
		AdminAddr:         ":18190",
		LogLevel:          logs.InfoLevel.String(),
		ClusteringEnabled: true,
		ClusterThreshold:  5,
		SnapshotFile:      "pins.json.zst",
		SnapshotInterval:  time.Minute,
		FrameDuration:     time.Millisecond * 250,
	}

	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts the pin server.").
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
	gin.SetMode(gin.ReleaseMode)

	layer, err := pinindex.NewLayer(pinindex.Options{
		ClusteringEnabled: conf.ClusteringEnabled,
		ClusterThreshold:  conf.ClusterThreshold,
	})
	if err != nil {
		logs.Fatal(errors.New("creating pin layer failed").Wrap(err))
	}
	defer layer.Close()

	store := pinstore.New(layer)
	if conf.SnapshotFile != "" {
		if err := store.Load(conf.SnapshotFile); err != nil {
			logs.Fatal(errors.New("loading snapshot failed").Wrap(err))
		}
	}

	s := newServer(ctx, layer, store, conf.FrameDuration)

	var wg sync.WaitGroup
	if conf.SnapshotFile != "" && conf.SnapshotInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.saveSnapshots(ctx, conf.SnapshotFile, conf.SnapshotInterval)
		}()
	}

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", handleHealthCheck)

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("pins", store.Len()).
		WithTag("clustering", conf.ClusteringEnabled).
		WithTag("threshold", conf.ClusterThreshold).
		Info("starting pin server")

	listenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(s.router(), metricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)

	wg.Wait()
	s.streams.Wait()
	if conf.SnapshotFile != "" {
		if err := s.saveSnapshot(conf.SnapshotFile); err != nil {
			logs.Warn(errors.New("saving snapshot on exit failed").Wrap(err))
		}
	}
}

// listenAndServe starts the given servers and shuts them down once ctx is
// done.
func listenAndServe(ctx context.Context, servers ...*http.Server) {
	go func() {
		<-ctx.Done()

		for _, s := range servers {
			if err := s.Shutdown(context.Background()); err != nil {
				logs.Warn(errors.Newf("shutting down the server failed").
					WithTag("addr", s.Addr).
					Wrap(err))
			}
		}
	}()

	var wg sync.WaitGroup

	for _, s := range servers {
		wg.Add(1)

		go func(s *http.Server) {
			defer wg.Done()

			logs.WithTag("addr", s.Addr).Info("starting server")

			switch err := s.ListenAndServe(); err {
			case nil, http.ErrServerClosed, context.Canceled:
				logs.WithTag("addr", s.Addr).Info("stopping server")

			default:
				logs.Warn(errors.Newf("server stopped").
					WithTag("addr", s.Addr).
					Wrap(err))
			}
		}(s)
	}

	wg.Wait()
}

func handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// metricsPathFormatter folds pin IDs into a single path label and drops
// requests that did not reach a route.
func metricsPathFormatter(statusCode int, path string) string {
	if statusCode == http.StatusMovedPermanently ||
		statusCode == http.StatusBadRequest ||
		statusCode == http.StatusNotFound ||
		statusCode == http.StatusMethodNotAllowed {
		return ""
	}
	return routePath(path)
}
