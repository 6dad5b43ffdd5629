//go:build !linux

package main

import (
	"io"

	"github.com/gen2brain/asiotest"
)

func printCaps(io.Writer, asiotest.Driver) {}
