//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/universe/internal/core/loader"
)

func InitializeApp(cfg Config, source loader.ModuleSource) (*App, func(), error) {
	wire.Build(ProviderSet)
	return nil, nil, nil
}
