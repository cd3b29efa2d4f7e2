// Command iiocap runs the periodic capture driver for a while and writes the captured channels to a WAV file.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/gen2brain/iio"
)

func main() {
	cfg, err := Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	var logger *zap.Logger
	if cfg.Debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}

	sugar := logger.Sugar()
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		sugar.Errorw("capture failed", "error", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *Config, logger *zap.Logger) error {
	sugar := logger.Sugar()

	device, err := newDevice(cfg, logger)
	if err != nil {
		return err
	}

	out, err := os.Create(cfg.Output)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	engine := newWavEngine(out, cfg.BitDepth, sugar)

	drvCfg := cfg.DriverConfig()
	drv := iio.NewDriver(device, &drvCfg, iio.WithLogger(logger))

	if err := drv.Attach(engine); err != nil {
		return err
	}
	defer func() {
		if err := drv.Detach(); err != nil {
			sugar.Warnw("detach failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	timing := drv.Timing()
	sugar.Infow("capturing",
		"device", cfg.Device,
		"output", cfg.Output,
		"rate", timing.SampleRate(),
		"period", timing.PeriodFrames(),
		"periods", timing.Periods(),
		"channels", drv.Layout().Requested,
		"duration", cfg.Duration)

	err = drv.Run(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}

	if cerr := engine.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("finish wav: %w", cerr)
	}

	sugar.Infow("capture finished",
		"frames", engine.frames,
		"cycles", engine.cycles,
		"xruns", drv.Xruns())

	return err
}

func newDevice(cfg *Config, logger *zap.Logger) (iio.CaptureDevice, error) {
	switch cfg.Device {
	case "dummy":
		return iio.NewDummyDevice(cfg.DeviceChannels, cfg.Devices), nil
	case "replay":
		dev, err := newReplayDevice(cfg.Input, cfg.Loop)
		if err != nil {
			return nil, err
		}

		if cfg.Rate == 0 {
			cfg.Rate = dev.SampleRate()
		}

		return dev, nil
	default:
		format, err := iio.ParsePcmFormat(cfg.Format)
		if err != nil {
			return nil, err
		}

		return iio.NewALSADevice(iio.ALSAConfig{
			Chip:     cfg.Chip,
			Channels: cfg.DeviceChannels,
			Rate:     cfg.Rate,
			Format:   format,
			MMap:     cfg.MMap,
		}, logger.Named("alsa")), nil
	}
}
