package config

import "sort"

func preset(mutate func(*Config)) *Config {
	cfg := DefaultConfig()
	mutate(cfg)
	return cfg
}

var Presets = map[string]map[string]func() *Config{
	"pendulum": {
		"default": func() *Config {
			return preset(func(c *Config) {})
		},
		"fine": func() *Config {
			return preset(func(c *Config) {
				c.Grid.Samples = []int{101, 101}
				c.Train.Iterations = 20
			})
		},
		"quick": func() *Config {
			return preset(func(c *Config) {
				c.Grid.Samples = []int{21, 21}
				c.Train.Iterations = 3
				c.Train.Epochs = 5
				c.Train.PretrainEpochs = 50
				c.ROA.Horizon = 10
			})
		},
	},
	"cartpole": {
		"coarse": func() *Config {
			return preset(func(c *Config) {
				c.Model = "cartpole"
				c.Grid.Min = []float64{-1, -1, -0.5, -0.5}
				c.Grid.Max = []float64{1, 1, 0.5, 0.5}
				c.Grid.Samples = []int{9, 9, 9, 9}
				c.LQR.StateWeights = []float64{1, 1, 10, 1}
				c.LQR.Saturate = 0
				c.Train.Iterations = 5
			})
		},
	},
}

func GetPreset(model, name string) *Config {
	group, ok := Presets[model]
	if !ok {
		return nil
	}
	fn, ok := group[name]
	if !ok {
		return nil
	}
	return fn()
}

func ListPresets(model string) []string {
	group, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(group))
	for name := range group {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
