package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDt             = 0.01
	DefaultHorizon        = 20.0
	DefaultConvergeRadius = 0.05
	DefaultDivergeRadius  = 10.0
	DefaultEps            = 1e-3
)

type Config struct {
	Model      string        `yaml:"model"`
	Integrator string        `yaml:"integrator"`
	Candidate  string        `yaml:"candidate"`
	Dt         float64       `yaml:"dt"`
	Seed       int64         `yaml:"seed"`
	Grid       GridConfig    `yaml:"grid"`
	LQR        LQRConfig     `yaml:"lqr"`
	ROA        ROAConfig     `yaml:"roa"`
	Network    NetworkConfig `yaml:"network"`
	Train      TrainConfig   `yaml:"train"`
}

type GridConfig struct {
	Min     []float64 `yaml:"min"`
	Max     []float64 `yaml:"max"`
	Samples []int     `yaml:"samples"`
}

type LQRConfig struct {
	StateWeights   []float64 `yaml:"state_weights"`
	ControlWeights []float64 `yaml:"control_weights"`
	Saturate       float64   `yaml:"saturate"`
}

type ROAConfig struct {
	Horizon        float64 `yaml:"horizon"`
	ConvergeRadius float64 `yaml:"converge_radius"`
	DivergeRadius  float64 `yaml:"diverge_radius"`
}

type NetworkConfig struct {
	Hidden []int   `yaml:"hidden"`
	Eps    float64 `yaml:"eps"`
}

type TrainConfig struct {
	Iterations      int     `yaml:"iterations"`
	Epochs          int     `yaml:"epochs"`
	BatchSize       int     `yaml:"batch_size"`
	LearningRate    float64 `yaml:"learning_rate"`
	LevelMultiplier float64 `yaml:"level_multiplier"`
	DecreaseTol     float64 `yaml:"decrease_tol"`
	LagrangeFactor  float64 `yaml:"lagrange_factor"`
	OriginRadius    float64 `yaml:"origin_radius"`
	PretrainEpochs  int     `yaml:"pretrain_epochs"`
	PretrainSamples int     `yaml:"pretrain_samples"`
}

func DefaultConfig() *Config {
	return &Config{
		Model:      "pendulum",
		Integrator: "rk4",
		Candidate:  "neural",
		Dt:         DefaultDt,
		Seed:       1,
		Grid: GridConfig{
			Min:     []float64{-1, -1},
			Max:     []float64{1, 1},
			Samples: []int{51, 51},
		},
		LQR: LQRConfig{
			StateWeights:   []float64{100, 1},
			ControlWeights: []float64{1},
			Saturate:       1,
		},
		ROA: ROAConfig{
			Horizon:        DefaultHorizon,
			ConvergeRadius: DefaultConvergeRadius,
			DivergeRadius:  DefaultDivergeRadius,
		},
		Network: NetworkConfig{
			Hidden: []int{64, 64},
			Eps:    DefaultEps,
		},
		Train: TrainConfig{
			Iterations:      10,
			Epochs:          20,
			BatchSize:       64,
			LearningRate:    5e-3,
			LevelMultiplier: 1.5,
			DecreaseTol:     1e-4,
			LagrangeFactor:  1.0,
			OriginRadius:    0.05,
			PretrainEpochs:  200,
			PretrainSamples: 128,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if c.Dt <= 0 {
		return fmt.Errorf("config: dt must be positive, got %f", c.Dt)
	}
	if len(c.Grid.Min) != len(c.Grid.Max) || len(c.Grid.Min) != len(c.Grid.Samples) {
		return fmt.Errorf("config: grid min/max/samples lengths differ")
	}
	for d := range c.Grid.Min {
		if c.Grid.Max[d] <= c.Grid.Min[d] {
			return fmt.Errorf("config: grid dimension %d has empty bounds", d)
		}
		if c.Grid.Samples[d] < 2 {
			return fmt.Errorf("config: grid dimension %d needs at least 2 samples", d)
		}
	}
	if c.ROA.Horizon <= 0 {
		return fmt.Errorf("config: roa horizon must be positive")
	}
	if c.ROA.ConvergeRadius <= 0 || c.ROA.DivergeRadius <= c.ROA.ConvergeRadius {
		return fmt.Errorf("config: roa radii must satisfy 0 < converge < diverge")
	}
	return nil
}
