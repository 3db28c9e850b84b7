//go:build !linux

package engine

import (
	"context"

	appErr "gradebox/pkg/errors"
)

func newDirect(cfg Config) (Engine, error) {
	return nil, appErr.Newf(appErr.BackendUnavailable, "direct backend requires linux")
}

func newDelegated(ctx context.Context, cfg Config) (Engine, error) {
	return nil, appErr.Newf(appErr.BackendUnavailable, "delegated backend requires linux")
}
