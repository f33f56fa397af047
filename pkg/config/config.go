// Package config loads estimator settings from YAML, so experiment scripts
// can keep their grid and solver parameters next to the data they run on.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/c9s/hawkes/pkg/hawkes"
)

// Config mirrors hawkes.Options in YAML form.
type Config struct {
	KernelSupport        float64   `yaml:"kernelSupport"`
	KernelSize           int       `yaml:"kernelSize"`
	KernelDt             float64   `yaml:"kernelDt"`
	KernelDiscretization []float64 `yaml:"kernelDiscretization"`

	NThreads    int     `yaml:"nThreads"`
	MaxIter     int     `yaml:"maxIter"`
	Tol         float64 `yaml:"tol"`
	Verbose     bool    `yaml:"verbose"`
	PrintEvery  int     `yaml:"printEvery"`
	RecordEvery int     `yaml:"recordEvery"`
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can not read config file %s", path)
	}
	return Parse(data)
}

// Parse parses YAML config content.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "can not parse config")
	}
	return &c, nil
}

// Estimator builds a HawkesEM from the config. Grid consistency is validated
// by the estimator constructor.
func (c *Config) Estimator() (*hawkes.HawkesEM, error) {
	return hawkes.NewWithOptions(hawkes.Options{
		KernelSupport:        c.KernelSupport,
		KernelSize:           c.KernelSize,
		KernelDt:             c.KernelDt,
		KernelDiscretization: c.KernelDiscretization,
		NThreads:             c.NThreads,
		MaxIter:              c.MaxIter,
		Tol:                  c.Tol,
		Verbose:              c.Verbose,
		PrintEvery:           c.PrintEvery,
		RecordEvery:          c.RecordEvery,
	})
}
