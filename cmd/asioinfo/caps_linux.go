package main

import (
	"fmt"
	"io"

	"github.com/gen2brain/asiotest"
	"github.com/gen2brain/asiotest/alsa"
)

func printCaps(w io.Writer, d asiotest.Driver) {
	ad, ok := d.(*alsa.Driver)
	if !ok {
		return
	}

	capture, playback := ad.Caps()
	if capture != nil {
		fmt.Fprintf(w, "\nCapture:\n%s", capture)
	}
	if playback != nil {
		fmt.Fprintf(w, "\nPlayback:\n%s", playback)
	}
}
