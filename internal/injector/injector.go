//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/framesync/internal/server"
)

var commonSet = wire.NewSet(ProvideConfig, ProvideLogger, server.NewRegistry)

func InitializeServer(path ConfigPath) (*server.Server, error) {
	wire.Build(commonSet, server.NewServer)
	return nil, nil
}

func InitializeClient(path ConfigPath) (*server.Client, error) {
	wire.Build(commonSet, server.NewClient)
	return nil, nil
}
