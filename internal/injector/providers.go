package injector

import (
	"context"
	"io"

	"github.com/google/wire"

	"github.com/zeusync/universe/internal/core/loader"
	"github.com/zeusync/universe/internal/core/observability/log"
	"github.com/zeusync/universe/internal/core/observability/tracing"
)

// Config is everything the providers need to assemble a loader.
type Config struct {
	Settings  loader.Settings
	LoadOrder []loader.Entry
	LogLevel  string
	// LogOutput switches to a JSON logger writing there; nil keeps the console logger.
	LogOutput io.Writer
	Tracing   tracing.Config
}

// App is the assembled loader with the collaborators that outlive it.
type App struct {
	Loader  *loader.Loader
	Log     log.Log
	Tracing *tracing.Provider
}

var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideTracing,
	ProvideLoader,
	wire.Struct(new(App), "*"),
)

func ProvideLogger(cfg Config) log.Log {
	level := log.ParseLevel(cfg.LogLevel)
	if cfg.LogOutput != nil {
		return log.NewWriter(level, cfg.LogOutput)
	}
	return log.NewConsole(level)
}

// ProvideTracing builds the tracer provider. The cleanup flushes pending spans.
func ProvideTracing(cfg Config) (*tracing.Provider, func(), error) {
	p, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, nil, err
	}
	return p, func() { _ = p.Shutdown(context.Background()) }, nil
}

func ProvideLoader(cfg Config, source loader.ModuleSource, logger log.Log, tp *tracing.Provider) *loader.Loader {
	opts := []loader.Option{
		loader.WithSettings(cfg.Settings),
		loader.WithLogger(logger),
		loader.WithTracer(tp.Tracer()),
	}
	if len(cfg.LoadOrder) > 0 {
		opts = append(opts, loader.WithLoadOrder(cfg.LoadOrder))
	}
	return loader.New(source, opts...)
}
