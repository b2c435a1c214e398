package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/breeze-audio/recorder/internal/logging"
)

var log = logging.L("config")

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"warning": true,
	"error": true,
}

var validArchiveProviders = map[string]bool{
	"":       true,
	"local":  true,
	"s3":     true,
	"azblob": true,
	"gcs":    true,
	"b2":     true,
}

// Result separates validation problems into ones that must block
// startup (Fatals) from ones that are logged and auto-clamped
// (Warnings), mirroring the teacher's tiered validation idiom.
type Result struct {
	Fatals   []error
	Warnings []error
}

func (r *Result) HasFatals() bool {
	return len(r.Fatals) > 0
}

func (r *Result) fatal(format string, args ...any) {
	r.Fatals = append(r.Fatals, fmt.Errorf(format, args...))
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Errorf(format, args...))
}

// ValidateTiered checks the config and clamps any out-of-range value
// that would otherwise panic deeper in the capture or encoding pipeline
// (spec.md §7 "Config & Validation"). Clampable problems are warnings;
// problems with no safe default are fatal.
func (c *Config) ValidateTiered() Result {
	var r Result

	if c.SampleRate <= 0 {
		r.fatal("sample_rate %d must be positive", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		r.fatal("channels %d must be 1 or 2", c.Channels)
	}
	if c.BitDepth != 16 && c.BitDepth != 32 {
		r.fatal("bit_depth %d must be 16 or 32", c.BitDepth)
	}

	if math.IsNaN(c.MicGain) || math.IsInf(c.MicGain, 0) {
		r.fatal("mic_gain %v is not a finite number", c.MicGain)
	}
	if math.IsNaN(c.LoopbackGain) || math.IsInf(c.LoopbackGain, 0) {
		r.fatal("loopback_gain %v is not a finite number", c.LoopbackGain)
	}

	if len(c.OutputDir) > 4096 {
		r.fatal("output_dir exceeds maximum path length (4096)")
	}
	if c.OutputDir == "" {
		r.fatal("output_dir must not be empty")
	}

	if c.MP3BitrateKbps != 0 {
		if c.MP3BitrateKbps < 64 {
			r.warn("mp3_bitrate_kbps %d is below minimum 64, clamping", c.MP3BitrateKbps)
			c.MP3BitrateKbps = 64
		} else if c.MP3BitrateKbps > 320 {
			r.warn("mp3_bitrate_kbps %d exceeds maximum 320, clamping", c.MP3BitrateKbps)
			c.MP3BitrateKbps = 320
		}
	}

	if c.WriterQueueCapacity < 2000 {
		r.warn("writer_queue_capacity %d is below minimum 2000, clamping", c.WriterQueueCapacity)
		c.WriterQueueCapacity = 2000
	} else if c.WriterQueueCapacity > 10000 {
		r.warn("writer_queue_capacity %d exceeds maximum 10000, clamping", c.WriterQueueCapacity)
		c.WriterQueueCapacity = 10000
	}

	if !validArchiveProviders[strings.ToLower(c.ArchiveProvider)] {
		r.warn("unknown archive_provider %q, archival disabled", c.ArchiveProvider)
		c.ArchiveProvider = ""
	}
	if c.ArchiveProvider != "" && c.ArchiveProvider != "local" && c.ArchiveBucket == "" {
		r.fatal("archive_provider %q requires archive_bucket", c.ArchiveProvider)
	}

	if c.RelayPort < 0 || c.RelayPort > 65535 {
		r.warn("relay_port %d out of range, disabling relay", c.RelayPort)
		c.RelayPort = 0
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.warn("log_level %q is not valid (use debug, info, warn, error), defaulting to info", c.LogLevel)
		c.LogLevel = "info"
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.warn("log_format %q is not valid (use text or json), defaulting to text", c.LogFormat)
		c.LogFormat = "text"
	}

	if c.SessionLogMaxSizeMB <= 0 {
		r.warn("session_log_max_size_mb %d is not positive, clamping to 10", c.SessionLogMaxSizeMB)
		c.SessionLogMaxSizeMB = 10
	}

	return r
}
