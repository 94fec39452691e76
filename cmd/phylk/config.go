package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RunConfig is phylk's structured input: everything not already covered
// by a flag. Grounded in samcharles93-mantle's go.mod yaml.v3 dependency,
// following the teacher's own flag-based drivers (greedy/greedo.go,
// mcmct/maru.go) for everything a flag already covers.
type RunConfig struct {
	Tree        string  `yaml:"tree"`
	Alignment   string  `yaml:"alignment"`
	Threads     int     `yaml:"threads"`
	Categories  int     `yaml:"categories"`
	GammaShape  float64 `yaml:"gamma_shape"`
	Model       string  `yaml:"model"` // "jc69" or "gtr"
	AutoScaling bool    `yaml:"auto_scaling"`
}

func loadConfig(path string) (*RunConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("phylk: reading config %s: %w", path, err)
	}
	cfg := &RunConfig{Categories: 1, Model: "jc69"}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("phylk: parsing config %s: %w", path, err)
	}
	if cfg.Tree == "" || cfg.Alignment == "" {
		return nil, fmt.Errorf("phylk: config %s must set both tree and alignment", path)
	}
	return cfg, nil
}
