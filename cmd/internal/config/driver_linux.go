package config

import (
	"io"
	"log/slog"

	"github.com/gen2brain/asiotest"
	"github.com/gen2brain/asiotest/alsa"
)

func openALSA(cfg Config, logger *slog.Logger) (asiotest.Driver, io.Closer, error) {
	driver, err := alsa.Open(cfg.ALSA.Card, cfg.ALSA.Device, logger)
	if err != nil {
		return nil, nil, err
	}

	return driver, driver, nil
}
