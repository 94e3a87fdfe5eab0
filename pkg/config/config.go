package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/ambientscribe/pkg/asr"
	"github.com/xaionaro-go/ambientscribe/pkg/audio"
	"github.com/xaionaro-go/ambientscribe/pkg/audio/capture"
	"github.com/xaionaro-go/ambientscribe/pkg/audit"
	"github.com/xaionaro-go/ambientscribe/pkg/diarization"
	"github.com/xaionaro-go/ambientscribe/pkg/ephemeral"
	"github.com/xaionaro-go/ambientscribe/pkg/pipeline"
	"github.com/xaionaro-go/ambientscribe/pkg/thermal"
	"github.com/xaionaro-go/ambientscribe/pkg/xpath"
)

type InputType string

const (
	InputTypeUndefined = InputType("")
	InputTypePulse     = InputType("pulse")
	InputTypeSynthetic = InputType("synthetic")
)

type AudioConfig struct {
	Input         InputType     `yaml:"input"`
	SampleRate    uint32        `yaml:"sample_rate"`
	FrameDuration time.Duration `yaml:"frame_duration"`
	VADThreshold  float64       `yaml:"vad_threshold"`
}

type ASRConfig struct {
	ModelPath   string        `yaml:"model_path"`
	Window      time.Duration `yaml:"window"`
	Overlap     time.Duration `yaml:"overlap"`
	MaxBuffered time.Duration `yaml:"max_buffered"`
}

type ThermalConfig struct {
	Interval             time.Duration `yaml:"interval"`
	HighThreshold        float64       `yaml:"high_threshold"`
	RecoveryThreshold    float64       `yaml:"recovery_threshold"`
	HighDuration         time.Duration `yaml:"high_duration"`
	RecoveryDuration     time.Duration `yaml:"recovery_duration"`
	SevereGracePeriod    time.Duration `yaml:"severe_grace_period"`
	HighTemperatureC     float64       `yaml:"high_temperature_c"`
	RecoveryTemperatureC float64       `yaml:"recovery_temperature_c"`
}

type PerformanceConfig struct {
	// DeviceTier is "A", "B" or "auto".
	DeviceTier string `yaml:"device_tier"`
}

type DiarizationConfig struct {
	TurnGap          time.Duration `yaml:"turn_gap"`
	ConfidenceRampUp time.Duration `yaml:"confidence_ramp_up"`
}

type EphemeralConfig struct {
	StatePath      string `yaml:"state_path"`
	PurgeMarkerKey string `yaml:"purge_marker_key"`
}

type PipelineConfig struct {
	InferenceInterval      time.Duration `yaml:"inference_interval"`
	AudioInputRestartDelay time.Duration `yaml:"audio_input_restart_delay"`
}

type AuditConfig struct {
	// Kafka is used only when brokers are set; the events are logged anyway.
	Kafka audit.KafkaSinkConfig `yaml:"kafka"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type config struct {
	Audio       AudioConfig       `yaml:"audio"`
	ASR         ASRConfig         `yaml:"asr"`
	Thermal     ThermalConfig     `yaml:"thermal"`
	Performance PerformanceConfig `yaml:"performance"`
	Diarization DiarizationConfig `yaml:"diarization"`
	Ephemeral   EphemeralConfig   `yaml:"ephemeral"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Audit       AuditConfig       `yaml:"audit"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type Config config

func Default() Config {
	captureOpts := capture.DefaultOptions()
	asrCfg := asr.DefaultConfig()
	thermalCfg := thermal.DefaultConfig()
	diarizationCfg := diarization.DefaultConfig()
	pipelineCfg := pipeline.DefaultConfig()
	return Config{
		Audio: AudioConfig{
			Input:         InputTypePulse,
			SampleRate:    uint32(captureOpts.SampleRate),
			FrameDuration: captureOpts.FrameDuration,
			VADThreshold:  captureOpts.VAD.Threshold,
		},
		ASR: ASRConfig{
			ModelPath:   "~/.ambientscribe/models/ggml-base.en.bin",
			Window:      asrCfg.Window,
			Overlap:     asrCfg.Overlap,
			MaxBuffered: asrCfg.MaxBuffered,
		},
		Thermal: ThermalConfig{
			Interval:          thermalCfg.Interval,
			HighThreshold:     thermalCfg.HighThreshold,
			RecoveryThreshold: thermalCfg.RecoveryThreshold,
			HighDuration:      thermalCfg.HighDuration,
			RecoveryDuration:  thermalCfg.RecoveryDuration,
			SevereGracePeriod: thermalCfg.SevereGracePeriod,
		},
		Performance: PerformanceConfig{
			DeviceTier: "auto",
		},
		Diarization: DiarizationConfig{
			TurnGap:          diarizationCfg.TurnGap,
			ConfidenceRampUp: diarizationCfg.ConfidenceRampUp,
		},
		Ephemeral: EphemeralConfig{
			StatePath:      "~/.ambientscribe/state.yaml",
			PurgeMarkerKey: ephemeral.DefaultPurgeMarkerKey,
		},
		Pipeline: PipelineConfig{
			InferenceInterval:      pipelineCfg.InferenceInterval,
			AudioInputRestartDelay: pipelineCfg.AudioInputRestartDelay,
		},
		Audit: AuditConfig{
			Kafka: audit.KafkaSinkConfig{
				Topic: "ambientscribe.audit",
			},
		},
	}
}

func (cfg Config) CaptureOptions() capture.Options {
	return capture.Options{
		SampleRate:    audio.SampleRate(cfg.Audio.SampleRate),
		FrameDuration: cfg.Audio.FrameDuration,
		VAD:           audio.NewVAD(cfg.Audio.VADThreshold),
	}
}

func (cfg Config) ASRConfig() (asr.Config, error) {
	modelPath, err := xpath.Expand(cfg.ASR.ModelPath)
	if err != nil {
		return asr.Config{}, fmt.Errorf("unable to expand the model path '%s': %w", cfg.ASR.ModelPath, err)
	}
	return asr.Config{
		ModelPath:   modelPath,
		SampleRate:  audio.SampleRateModel,
		Window:      cfg.ASR.Window,
		Overlap:     cfg.ASR.Overlap,
		MaxBuffered: cfg.ASR.MaxBuffered,
	}, nil
}

func (cfg Config) ThermalConfig() thermal.Config {
	return thermal.Config(cfg.Thermal)
}

func (cfg Config) DiarizationConfig() diarization.Config {
	return diarization.Config(cfg.Diarization)
}

func (cfg Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		InferenceInterval:      cfg.Pipeline.InferenceInterval,
		AudioInputRestartDelay: cfg.Pipeline.AudioInputRestartDelay,
	}
}

func (cfg Config) StatePath() (string, error) {
	return xpath.Expand(cfg.Ephemeral.StatePath)
}

func ReadConfigFromPath(
	ctx context.Context,
	cfgPath string,
	cfg *Config,
) error {
	b, err := os.ReadFile(cfgPath)
	if err != nil {
		return fmt.Errorf("unable to read file '%s': %w", cfgPath, err)
	}

	_, err = cfg.Read(b)
	return err
}

func ReadOrCreateConfigFile(
	ctx context.Context,
	cfgPath string,
) (*Config, error) {
	_, err := os.Stat(cfgPath)
	switch {
	case err == nil:
		cfg := Default()
		err := ReadConfigFromPath(ctx, cfgPath, &cfg)
		if err != nil {
			return nil, fmt.Errorf("unable to read the config from path '%s': %w", cfgPath, err)
		}
		return &cfg, nil
	case os.IsNotExist(err):
		logger.Debugf(ctx, "cannot find file '%s', creating", cfgPath)
		cfg := Default()
		err := WriteConfigToPath(ctx, cfgPath, cfg)
		if err != nil {
			logger.Errorf(ctx, "unable to write config to path '%s': %v", cfgPath, err)
		}
		return &cfg, nil
	default:
		return nil, fmt.Errorf("unable to access file '%s': %w", cfgPath, err)
	}
}

func WriteConfigToPath(
	ctx context.Context,
	cfgPath string,
	cfg Config,
) error {
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0750); err != nil {
		return fmt.Errorf("unable to create the directory for '%s': %w", cfgPath, err)
	}
	pathNew := cfgPath + ".new"
	f, err := os.OpenFile(pathNew, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0640)
	if err != nil {
		return fmt.Errorf("unable to open the config file '%s': %w", pathNew, err)
	}
	n, err := cfg.WriteTo(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("unable to write the config to file '%s': %w", pathNew, err)
	}
	err = os.Rename(pathNew, cfgPath)
	if err != nil {
		return fmt.Errorf("cannot move '%s' to '%s': %w", pathNew, cfgPath, err)
	}
	logger.Infof(ctx, "wrote the config (%s) to '%s'", humanize.Bytes(uint64(n)), cfgPath)
	return nil
}
