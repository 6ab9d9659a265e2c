//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"
)

func initializeApplication(ctx context.Context) (*application, func(), error) {
	wire.Build(providerSet)
	return nil, nil, nil
}
