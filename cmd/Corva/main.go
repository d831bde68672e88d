// Package main is the entry point of the Corva calendar sync service.
// It initializes the Kratos application with gRPC and HTTP servers and the
// token refresh scheduler.
package main

import (
	"context"
	"flag"
	"os"

	"Corva/internal/biz"
	"Corva/internal/conf"
	zapLogger "Corva/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/tracing"
	"github.com/go-kratos/kratos/v2/transport/grpc"
	"github.com/go-kratos/kratos/v2/transport/http"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "corva"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func newApp(logger log.Logger, gs *grpc.Server, hs *http.Server, task *biz.OAuthRefreshTask, sc *conf.Sync) (*kratos.App, error) {
	scheduler, err := newTokenRefreshCron(task, sc, logger)
	if err != nil {
		return nil, err
	}

	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(
			gs,
			hs,
		),
		kratos.AfterStart(func(context.Context) error {
			scheduler.Start()
			return nil
		}),
		kratos.BeforeStop(func(ctx context.Context) error {
			// Wait for a running refresh pass, bounded by the stop timeout.
			select {
			case <-scheduler.Stop().Done():
			case <-ctx.Done():
			}
			return nil
		}),
	), nil
}

func main() {
	flag.Parse()

	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		// Use fallback logger before Zap is initialized
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLog, err := zapLogger.NewZapLogger(bc.Log)
	if err != nil {
		log.Fatalf("failed to initialize zap logger: %v", err)
	}
	defer func() { _ = zapLog.Sync() }()

	logger := zapLogger.NewKratosAdapter(zapLog)
	logger = log.With(logger,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
		"trace.id", tracing.TraceID(),
		"span.id", tracing.SpanID(),
	)

	zapLogger.NewLogHelper(logger).Startup("Corva service starting",
		"log.level", bc.Log.Level,
		"log.format", bc.Log.Format,
		"log.env", bc.Log.Env,
		"acuity.enabled", bc.Providers.Acuity.Enabled(),
		"square.enabled", bc.Providers.Square.Enabled(),
	)

	app, cleanup, err := wireApp(bc.Server, bc.Data, bc.Auth, bc.Providers, bc.Sync, bc.Otp, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}
