package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/rs/zerolog"

	"murmur/capture"
	"murmur/encoder"
	"murmur/engine"
	"murmur/transcribe"
	"murmur/vad"
)

var version = "dev"

func main() {
	modelFlag := flag.String("model", "", "Path to whisper.cpp model file (ggml format)")
	langFlag := flag.String("lang", "en", "Language code for transcription (empty = auto-detect)")
	deviceFlag := flag.String("device", "", "Use named capture device (default: system default)")
	devicesFlag := flag.Bool("devices", false, "List capture devices and exit")
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	dumpFlag := flag.String("dump", "", "Write session audio to this FLAC file on exit")
	energyFlag := flag.Float64("energy-threshold", 0, "Relative-energy level treated as voice (default 0.3)")
	vadFlag := flag.Bool("webrtcvad", false, "Gate on WebRTC VAD instead of the energy heuristic")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("murmur %s\n", version)
		return
	}

	if *devicesFlag {
		devices, err := capture.Devices()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing devices: %v\n", err)
			os.Exit(1)
		}
		for _, d := range devices {
			fmt.Println(d.Name)
		}
		return
	}

	logger := newLogger(*tuiFlag, *debugFlag)

	if *modelFlag == "" {
		fmt.Fprintln(os.Stderr, "Error: -model is required (path to a ggml whisper model)")
		os.Exit(1)
	}
	eng, err := engine.NewWhisper(*modelFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading model: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	mic, err := newMic(*deviceFlag)
	if err != nil {
		logger.Error().Err(err).Msg("capture init failed")
		fmt.Fprintf(os.Stderr, "Error initializing capture: %v\n", err)
		os.Exit(1)
	}
	defer mic.Close()

	var dump *encoder.Flac
	if *dumpFlag != "" {
		dump, err = encoder.NewFlac()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		mic.SetTap(func(chunk []float32) {
			if err := dump.Feed(chunk); err != nil {
				logger.Error().Err(err).Msg("flac dump failed")
			}
		})
	}

	cfg := transcribe.Config{
		Language:        *langFlag,
		EnergyThreshold: *energyFlag,
		Logger:          &logger,
	}
	if *vadFlag {
		detector, err := vad.New()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing VAD: %v\n", err)
			os.Exit(1)
		}
		cfg.Voice = detector.Detect
	}
	if *tuiFlag {
		cfg.Observer = func(_, next transcribe.State) {
			tuiSend(stateMsg{state: next})
		}
	} else {
		cfg.Observer = printConfirmed
	}

	tr := transcribe.New(mic, eng, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := tr.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("start failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *tuiFlag {
		runTUI(ctx, tr, sigChan, logger)
	} else {
		fmt.Println("murmur: listening (ctrl+c to finish)")
		<-sigChan
	}

	tr.Stop()
	<-tr.Done()

	finish(tr.State(), dump, *dumpFlag, logger)
}

// runTUI drives the Bubble Tea program and relays record toggles back to
// the transcriber until the user quits or a signal arrives.
func runTUI(ctx context.Context, tr *transcribe.Transcriber, sigChan chan os.Signal, logger zerolog.Logger) {
	p := NewTUIProgram()
	tuiDone := make(chan struct{})
	go func() {
		defer close(tuiDone)
		if _, err := p.Run(); err != nil {
			logger.Error().Err(err).Msg("tui exited")
		}
	}()

	for {
		select {
		case <-sigChan:
			p.Quit()
			<-tuiDone
			return
		case <-tuiDone:
			return
		case <-tuiToggle:
			if tr.State().IsRecording {
				tr.Stop()
			} else if err := tr.Start(ctx); err != nil {
				logger.Error().Err(err).Msg("restart failed")
			}
		}
	}
}

// printConfirmed streams newly confirmed text to stdout in plain mode.
func printConfirmed(prev, next transcribe.State) {
	if len(next.Confirmed) <= len(prev.Confirmed) {
		return
	}
	for _, seg := range next.Confirmed[len(prev.Confirmed):] {
		fmt.Println(strings.TrimSpace(seg.Text))
	}
}

func newLogger(tui, debug bool) zerolog.Logger {
	var out io.Writer = os.Stderr
	if tui {
		// The alternate screen owns the terminal; divert diagnostics to a file.
		f, err := os.OpenFile("murmur_log.txt", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			out = io.Discard
		} else {
			out = f
		}
	}
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05", NoColor: true}
	return zerolog.New(writer).With().Timestamp().Logger().Level(level)
}

func newMic(name string) (*capture.Mic, error) {
	id := ""
	if name != "" {
		devices, err := capture.Devices()
		if err != nil {
			return nil, err
		}
		for _, d := range devices {
			if d.Name == name {
				id = d.ID
				break
			}
		}
		if id == "" {
			return nil, fmt.Errorf("device not found: %s", name)
		}
	}
	return capture.NewMic(id)
}

func finish(st transcribe.State, dump *encoder.Flac, dumpPath string, logger zerolog.Logger) {
	if text := st.Text(); text != "" {
		fmt.Println(text)
		if err := clipboard.WriteAll(text); err != nil {
			logger.Debug().Err(err).Msg("clipboard copy failed")
		}
	}
	if dump == nil {
		return
	}
	if err := dump.Close(); err != nil {
		logger.Error().Err(err).Msg("finalizing flac dump")
		return
	}
	if err := os.WriteFile(dumpPath, dump.Bytes(), 0644); err != nil {
		logger.Error().Err(err).Msg("writing flac dump")
		return
	}
	logger.Info().Str("path", dumpPath).Uint64("samples", dump.TotalFrames()).Msg("session audio written")
}
