// Command ctplay loads a sample pack, an instrument pack, and a music
// pack from disk and plays the result through the default audio device,
// driving the engine at its configured decode rate.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/spf13/pflag"

	"github.com/osmium-audio/coretone/internal/coretone"
	"github.com/osmium-audio/coretone/internal/debug"
)

func main() {
	samplePath := pflag.StringP("samples", "s", "", "Path to a CSMP sample pack")
	instrPath := pflag.StringP("instruments", "i", "", "Path to a CINS instrument pack")
	musicPath := pflag.StringP("music", "m", "", "Path to a CMUS music pack to play on start")
	verbose := pflag.BoolP("verbose", "v", false, "Record engine warnings in an in-memory log (they are not printed)")
	help := pflag.Bool("help", false, "Display help text")

	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: ctplay -s <samples.csmp> -i <instruments.cins> [-m <music.cmus>]")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help || *samplePath == "" || *instrPath == "" {
		pflag.Usage()
		os.Exit(1)
	}

	samplePack, err := os.ReadFile(*samplePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading sample pack: %v\n", err)
		os.Exit(1)
	}
	instrPack, err := os.ReadFile(*instrPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading instrument pack: %v\n", err)
		os.Exit(1)
	}

	var logger *debug.Logger
	if *verbose {
		logger = debug.NewLogger(1000)
	}

	engine := coretone.New(coretone.WithLogger(logger))
	if err := engine.Init(samplePack, instrPack); err != nil {
		fmt.Fprintf(os.Stderr, "engine init: %v\n", err)
		os.Exit(1)
	}

	if *musicPath != "" {
		musicPack, err := os.ReadFile(*musicPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading music pack: %v\n", err)
			os.Exit(1)
		}
		engine.PlayMusic(musicPack)
	}

	if err := portaudio.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "portaudio init: %v\n", err)
		os.Exit(1)
	}
	defer portaudio.Terminate()

	stream, err := portaudio.OpenDefaultStream(0, 2, float64(coretone.RenderRate),
		int(engine.BufferLen()/2), func(out []int16) { engine.Update(out) })
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening audio stream: %v\n", err)
		os.Exit(1)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "starting audio stream: %v\n", err)
		os.Exit(1)
	}
	defer stream.Stop()

	fmt.Printf("Playing at %d Hz, %d channels, buffer %d frames. Ctrl-C to quit.\n",
		coretone.RenderRate, coretone.Channels, engine.BufferLen()/2)

	if *musicPath == "" {
		select {} // nothing queued to wait on; block until Ctrl-C
	}
	for engine.CheckMusic() {
		time.Sleep(time.Second)
	}
}
