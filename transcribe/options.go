package transcribe

import (
	"time"

	"github.com/rs/zerolog"
)

// Config tunes the coordinator. Zero values are filled with defaults, so
// Config{} is a working configuration.
type Config struct {
	// PollInterval is how long a cycle sleeps when it has nothing to do.
	PollInterval time.Duration
	// MinNewAudio is the least new audio required before the gate is even
	// consulted; below it the cycle is skipped.
	MinNewAudio time.Duration
	// FlushSilence is the new-audio span that, absent voice, triggers a
	// flush of pending unconfirmed segments.
	FlushSilence time.Duration
	// RequiredSegments is the size of the trailing window of a pass that
	// stays provisional.
	RequiredSegments int

	// CompressionCheckWindow is the trailing token window examined for
	// degenerate, repetitive decoding.
	CompressionCheckWindow int
	// CompressionRatioThreshold stops a decode whose trailing-window
	// compression ratio climbs above it.
	CompressionRatioThreshold float64
	// LogProbThreshold, when set, stops a decode whose average
	// log-probability falls below it.
	LogProbThreshold *float64

	// EnergyThreshold is the relative-energy level the built-in gate
	// treats as voice.
	EnergyThreshold float64
	// Voice, when set, replaces the energy gate with an injected
	// predicate over the newest audio window.
	Voice VoiceFunc

	Language string

	// Observer receives (previous, next) state snapshots after every
	// mutation. It runs synchronously inside the loop and must not call
	// back into Start or Stop.
	Observer Observer

	Logger *zerolog.Logger
}

const (
	defaultPollInterval              = 100 * time.Millisecond
	defaultMinNewAudio               = time.Second
	defaultFlushSilence              = 1500 * time.Millisecond
	defaultRequiredSegments          = 2
	defaultCompressionCheckWindow    = 60
	defaultCompressionRatioThreshold = 2.4
	defaultEnergyThreshold           = 0.3
)

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.MinNewAudio <= 0 {
		c.MinNewAudio = defaultMinNewAudio
	}
	if c.FlushSilence <= 0 {
		c.FlushSilence = defaultFlushSilence
	}
	if c.RequiredSegments <= 0 {
		c.RequiredSegments = defaultRequiredSegments
	}
	if c.CompressionCheckWindow <= 0 {
		c.CompressionCheckWindow = defaultCompressionCheckWindow
	}
	if c.CompressionRatioThreshold <= 0 {
		c.CompressionRatioThreshold = defaultCompressionRatioThreshold
	}
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = defaultEnergyThreshold
	}
	return c
}
