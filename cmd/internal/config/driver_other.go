//go:build !linux

package config

import (
	"errors"
	"io"
	"log/slog"

	"github.com/gen2brain/asiotest"
)

func openALSA(Config, *slog.Logger) (asiotest.Driver, io.Closer, error) {
	return nil, nil, errors.New("the alsa driver is only available on linux")
}
