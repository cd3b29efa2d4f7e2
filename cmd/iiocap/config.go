package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/gen2brain/iio"
)

// Config is the capture tool configuration.
// Values are layered: Defaults, then the YAML file, then .env, then IIO_* variables, then flags.
type Config struct {
	// Device is the capture backend: alsa, dummy or replay.
	Device string `yaml:"device" env:"DEVICE"`
	// Chip selects the ALSA capture PCMs, a card name or hw:C,D list.
	Chip string `yaml:"chip" env:"CHIP"`
	// Channels is the number of logical channels to capture, 0 for all.
	Channels uint32 `yaml:"channels" env:"CHANNELS"`
	// DeviceChannels is the channel count of each PCM, 0 for the hardware maximum.
	DeviceChannels uint32 `yaml:"device_channels" env:"DEVICE_CHANNELS"`
	// Devices is the number of concatenated dummy devices.
	Devices      uint32  `yaml:"devices" env:"DEVICES"`
	Rate         uint32  `yaml:"rate" env:"RATE"`
	PeriodSize   uint32  `yaml:"period_size" env:"PERIOD_SIZE"`
	PeriodCount  uint32  `yaml:"period_count" env:"PERIOD_COUNT"`
	SafetyFactor float64 `yaml:"safety_factor" env:"SAFETY_FACTOR"`
	// Format is the ALSA sample format, e.g. S16_LE.
	Format string `yaml:"format" env:"FORMAT"`
	MMap   bool   `yaml:"mmap" env:"MMAP"`
	// Input is the WAV or MP3 file replayed by the replay device.
	Input string `yaml:"input" env:"INPUT"`
	// Loop restarts the replay at the end of the input.
	Loop bool `yaml:"loop" env:"LOOP"`
	// Output is the WAV file written with the connected ports.
	Output   string        `yaml:"output" env:"OUTPUT"`
	BitDepth int           `yaml:"bit_depth" env:"BIT_DEPTH"`
	Duration time.Duration `yaml:"duration" env:"DURATION"`
	Debug    bool          `yaml:"debug" env:"DEBUG"`
}

// Defaults returns the AD7476A capture defaults.
func Defaults() *Config {
	drv := iio.DefaultConfig()

	return &Config{
		Device:       "alsa",
		Chip:         "AD7476A",
		Devices:      1,
		Rate:         drv.SampleRate,
		PeriodSize:   drv.PeriodSize,
		PeriodCount:  drv.PeriodCount,
		SafetyFactor: drv.SafetyFactor,
		Format:       "S16_LE",
		Output:       "capture.wav",
		BitDepth:     16,
		Duration:     5 * time.Second,
	}
}

// Load builds the configuration from the files, the environment and args, the command line without the program name.
func Load(args []string) (*Config, error) {
	var configPath, envFile string

	// First pass only finds the config and .env files, flags are applied again on top.
	probe := newFlagSet(&Config{}, &configPath, &envFile)
	probe.SetOutput(io.Discard)
	if err := probe.Parse(args); err != nil {
		return nil, err
	}

	cfg := Defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", configPath, err)
		}
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	if err := env.Parse(cfg, env.Options{Prefix: "IIO_"}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	fs := newFlagSet(cfg, &configPath, &envFile)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if fs.NArg() > 0 {
		cfg.Output = fs.Arg(0)
	}

	return cfg, cfg.Validate()
}

func newFlagSet(cfg *Config, configPath, envFile *string) *flag.FlagSet {
	fs := flag.NewFlagSet("iiocap", flag.ContinueOnError)

	fs.StringVar(configPath, "config", *configPath, "YAML configuration file")
	fs.StringVar(envFile, "env-file", ".env", "dotenv file with IIO_* variables")

	fs.StringVar(&cfg.Device, "device", cfg.Device, "capture device: alsa, dummy or replay")
	fs.StringVar(&cfg.Chip, "chip", cfg.Chip, "card name or hw:C,D list of the ALSA capture devices")
	uintVar(fs, &cfg.Channels, "channels", "number of channels to capture, 0 for all")
	uintVar(fs, &cfg.DeviceChannels, "device-channels", "channels of each PCM, 0 for the hardware maximum")
	uintVar(fs, &cfg.Devices, "devices", "number of dummy devices")
	uintVar(fs, &cfg.Rate, "rate", "sample rate in Hz")
	uintVar(fs, &cfg.PeriodSize, "period-size", "frames per cycle")
	uintVar(fs, &cfg.PeriodCount, "period-count", "number of hardware periods")
	fs.Float64Var(&cfg.SafetyFactor, "safety-factor", cfg.SafetyFactor, "usable fraction of the device buffer")
	fs.StringVar(&cfg.Format, "format", cfg.Format, "ALSA sample format (S16_LE, S24_LE, S24_3LE, S32_LE)")
	fs.BoolVar(&cfg.MMap, "mmap", cfg.MMap, "use memory-mapped (MMAP) I/O")
	fs.StringVar(&cfg.Input, "input", cfg.Input, "WAV or MP3 file for the replay device")
	fs.BoolVar(&cfg.Loop, "loop", cfg.Loop, "loop the replay input")
	fs.StringVar(&cfg.Output, "output", cfg.Output, "output WAV file")
	fs.IntVar(&cfg.BitDepth, "bit-depth", cfg.BitDepth, "output WAV bit depth (16, 24, 32)")
	fs.DurationVar(&cfg.Duration, "duration", cfg.Duration, "capture duration, 0 until interrupted")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "debug logging")

	return fs
}

func uintVar(fs *flag.FlagSet, p *uint32, name, usage string) {
	fs.Func(name, fmt.Sprintf("%s (default %d)", usage, *p), func(s string) error {
		var v uint32
		if _, err := fmt.Sscan(s, &v); err != nil {
			return fmt.Errorf("invalid value %q", s)
		}
		*p = v

		return nil
	})
}

// Validate checks the options that cannot be checked by the driver.
func (c *Config) Validate() error {
	switch c.Device {
	case "alsa":
		if _, err := iio.ParsePcmFormat(c.Format); err != nil {
			return err
		}
	case "dummy":
		if c.DeviceChannels == 0 || c.Devices == 0 {
			return errors.New("dummy device needs device-channels and devices")
		}
	case "replay":
		if c.Input == "" {
			return errors.New("replay device needs an input file")
		}
	default:
		return fmt.Errorf("unknown device %q", c.Device)
	}

	switch c.BitDepth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("unsupported bit depth %d", c.BitDepth)
	}

	if c.Output == "" {
		return errors.New("no output file")
	}

	return nil
}

// DriverConfig returns the driver part of the configuration.
func (c *Config) DriverConfig() iio.Config {
	return iio.Config{
		SampleRate:   c.Rate,
		PeriodSize:   c.PeriodSize,
		PeriodCount:  c.PeriodCount,
		Channels:     c.Channels,
		SafetyFactor: c.SafetyFactor,
	}
}
