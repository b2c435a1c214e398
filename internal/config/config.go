package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Config holds the recorder's persisted settings, loaded from a YAML
// file via viper and overridable by RECORDER_-prefixed environment
// variables, the way the teacher's agent config layers env over file.
type Config struct {
	// Capture devices. Empty string means "default device" for that role.
	LoopbackDeviceID string `mapstructure:"loopback_device_id"`
	MicDeviceID      string `mapstructure:"mic_device_id"`

	// Sample rate and channel layout shared by every output target
	// (spec.md §3 "Audio Format"). BitDepth applies only to the Mix
	// target: System and Mic outputs are always 16-bit TPDF-dithered
	// (spec.md §6), so this field is threaded through as mixBitDepth.
	SampleRate int `mapstructure:"sample_rate"`
	Channels   int `mapstructure:"channels"`
	BitDepth   int `mapstructure:"bit_depth"` // 16 or 32, Mix target only

	// Initial gains; the session exposes these as atomics once running so
	// they can change mid-capture (spec.md §4.2).
	MicGain      float64 `mapstructure:"mic_gain"`
	LoopbackGain float64 `mapstructure:"loopback_gain"`

	OutputDir string `mapstructure:"output_dir"`

	// MP3 encoding. 0 disables MP3 output entirely.
	MP3BitrateKbps int `mapstructure:"mp3_bitrate_kbps"`

	// Disk writer queue capacity, clamped to [2000, 10000] (spec.md §7).
	WriterQueueCapacity int `mapstructure:"writer_queue_capacity"`

	// Session archival (optional; Provider == "" disables archival).
	ArchiveProvider   string `mapstructure:"archive_provider"` // "", "local", "s3", "azblob", "gcs", "b2"
	ArchiveBucket     string `mapstructure:"archive_bucket"`
	ArchiveRegion     string `mapstructure:"archive_region"`
	ArchiveLocalPath  string `mapstructure:"archive_local_path"`
	ArchivePrefix     string `mapstructure:"archive_prefix"`
	ArchiveRetention  int    `mapstructure:"archive_retention"` // kept sessions; 0 disables pruning

	// Control-plane IPC endpoint (named pipe name on Windows, socket path
	// elsewhere).
	IPCEndpoint string `mapstructure:"ipc_endpoint"`

	// Event relay (websocket). 0 disables the relay server.
	RelayPort int `mapstructure:"relay_port"`

	// Logging configuration
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	// Per-session text log (internal/sessionlog), capped independently of
	// the application log.
	SessionLogMaxSizeMB int `mapstructure:"session_log_max_size_mb"`
}

func Default() *Config {
	return &Config{
		SampleRate:          48000,
		Channels:            2,
		BitDepth:            16,
		MicGain:             1.0,
		LoopbackGain:        1.0,
		OutputDir:           defaultOutputDir(),
		MP3BitrateKbps:      0,
		WriterQueueCapacity: 4000,
		IPCEndpoint:         defaultIPCEndpoint(),
		RelayPort:           0,
		LogLevel:            "info",
		LogFormat:           "text",
		LogMaxSizeMB:        50,
		LogMaxBackups:       3,
		SessionLogMaxSizeMB: 10,
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("recorder")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("RECORDER")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// Validate config: fatals block startup, warnings are logged and continue.
	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("loopback_device_id", cfg.LoopbackDeviceID)
	viper.Set("mic_device_id", cfg.MicDeviceID)
	viper.Set("sample_rate", cfg.SampleRate)
	viper.Set("channels", cfg.Channels)
	viper.Set("bit_depth", cfg.BitDepth)
	viper.Set("mic_gain", cfg.MicGain)
	viper.Set("loopback_gain", cfg.LoopbackGain)
	viper.Set("output_dir", cfg.OutputDir)
	viper.Set("mp3_bitrate_kbps", cfg.MP3BitrateKbps)
	viper.Set("writer_queue_capacity", cfg.WriterQueueCapacity)
	viper.Set("archive_provider", cfg.ArchiveProvider)
	viper.Set("archive_bucket", cfg.ArchiveBucket)
	viper.Set("archive_region", cfg.ArchiveRegion)
	viper.Set("archive_local_path", cfg.ArchiveLocalPath)
	viper.Set("archive_prefix", cfg.ArchivePrefix)
	viper.Set("archive_retention", cfg.ArchiveRetention)
	viper.Set("ipc_endpoint", cfg.IPCEndpoint)
	viper.Set("relay_port", cfg.RelayPort)
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_format", cfg.LogFormat)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "recorder.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0600)
}

func defaultOutputDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Recordings")
}

func defaultIPCEndpoint() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\recorder-control`
	}
	return filepath.Join(os.TempDir(), "recorder-control.sock")
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Recorder")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Recorder")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "recorder")
	}
}
