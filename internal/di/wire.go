//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"FinGuard/pkg/config"
	"FinGuard/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application with a
// cleanup that closes infrastructure clients.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(ProviderSet)
	return nil, nil, nil
}
