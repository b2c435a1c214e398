package config

import "testing"

func TestValidateTieredRejectsNaNGain(t *testing.T) {
	cfg := Default()
	cfg.MicGain = nan()
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("expected NaN mic_gain to be fatal")
	}
}

func TestValidateTieredRejectsBadChannelCount(t *testing.T) {
	cfg := Default()
	cfg.Channels = 4
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("expected unsupported channel count to be fatal")
	}
}

func TestValidateTieredClampsLowBitrate(t *testing.T) {
	cfg := Default()
	cfg.MP3BitrateKbps = 32
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("expected warning not fatal, got %v", result.Fatals)
	}
	if cfg.MP3BitrateKbps != 64 {
		t.Fatalf("expected clamp to 64, got %d", cfg.MP3BitrateKbps)
	}
}

func TestValidateTieredClampsHighBitrate(t *testing.T) {
	cfg := Default()
	cfg.MP3BitrateKbps = 500
	cfg.ValidateTiered()
	if cfg.MP3BitrateKbps != 320 {
		t.Fatalf("expected clamp to 320, got %d", cfg.MP3BitrateKbps)
	}
}

func TestValidateTieredZeroBitrateDisablesMP3Untouched(t *testing.T) {
	cfg := Default()
	cfg.MP3BitrateKbps = 0
	cfg.ValidateTiered()
	if cfg.MP3BitrateKbps != 0 {
		t.Fatalf("expected 0 (disabled) to pass through untouched, got %d", cfg.MP3BitrateKbps)
	}
}

func TestValidateTieredClampsQueueCapacity(t *testing.T) {
	cfg := Default()
	cfg.WriterQueueCapacity = 100
	cfg.ValidateTiered()
	if cfg.WriterQueueCapacity != 2000 {
		t.Fatalf("expected clamp to 2000, got %d", cfg.WriterQueueCapacity)
	}

	cfg2 := Default()
	cfg2.WriterQueueCapacity = 50000
	cfg2.ValidateTiered()
	if cfg2.WriterQueueCapacity != 10000 {
		t.Fatalf("expected clamp to 10000, got %d", cfg2.WriterQueueCapacity)
	}
}

func TestValidateTieredUnknownArchiveProviderDisablesArchival(t *testing.T) {
	cfg := Default()
	cfg.ArchiveProvider = "dropbox"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("expected warning not fatal, got %v", result.Fatals)
	}
	if cfg.ArchiveProvider != "" {
		t.Fatalf("expected archive_provider cleared, got %q", cfg.ArchiveProvider)
	}
}

func TestValidateTieredS3WithoutBucketIsFatal(t *testing.T) {
	cfg := Default()
	cfg.ArchiveProvider = "s3"
	cfg.ArchiveBucket = ""
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("expected s3 provider without a bucket to be fatal")
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("expected warning not fatal, got %v", result.Fatals)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected fallback to info, got %q", cfg.LogLevel)
	}
}

func TestHasFatals(t *testing.T) {
	var r Result
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.fatal("boom")
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}
