// Package config provides configuration loading and management for the
// multiscale tool. Configuration files are YAML, or TOML when the file name
// ends in .toml; missing files yield the default configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"multiscale/pkg/parallel"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	// Parallel controls worker usage of every engine
	Parallel parallel.Config `yaml:"parallel" toml:"parallel"`

	// Convolution parameters
	Convolution struct {
		// Kernel is the default kernel: "b3", "linear" or "gaussian"
		Kernel string `yaml:"kernel" toml:"kernel"`

		// Sigma is the standard deviation of the Gaussian kernel
		Sigma float64 `yaml:"sigma" toml:"sigma"`

		// Size is the kernel size; zero selects it from Sigma
		Size int `yaml:"size" toml:"size"`

		// LowThreshold and HighThreshold control ringing suppression
		LowThreshold  float64 `yaml:"lowThreshold" toml:"lowThreshold"`
		HighThreshold float64 `yaml:"highThreshold" toml:"highThreshold"`

		// RescaleHighPass rescales high-pass results instead of truncating them
		RescaleHighPass bool `yaml:"rescaleHighPass" toml:"rescaleHighPass"`
	} `yaml:"convolution" toml:"convolution"`

	// Morphology parameters
	Morphology struct {
		// Operator is erosion, dilation, median, midpoint, selection or alpha-trimmed-mean
		Operator string `yaml:"operator" toml:"operator"`

		// Parameter is the selection point or the trimming factor
		Parameter float64 `yaml:"parameter" toml:"parameter"`

		// Structure is box, circular, cross or standard
		Structure string `yaml:"structure" toml:"structure"`

		// Size is the structure size
		Size int `yaml:"size" toml:"size"`
	} `yaml:"morphology" toml:"morphology"`

	// Multiscale decomposition parameters
	Multiscale struct {
		// Mode is "atrous" or "median"
		Mode string `yaml:"mode" toml:"mode"`

		// Layers is the number of detail layers
		Layers int `yaml:"layers" toml:"layers"`

		// ScalingFunction is "b3" or "linear"
		ScalingFunction string `yaml:"scalingFunction" toml:"scalingFunction"`

		// Linear selects the linear sequence with increment Delta
		Linear bool `yaml:"linear" toml:"linear"`
		Delta  int  `yaml:"delta" toml:"delta"`

		// MedianWavelet enables the median-wavelet hybrid of the median transform
		MedianWavelet          bool    `yaml:"medianWavelet" toml:"medianWavelet"`
		MedianWaveletThreshold float64 `yaml:"medianWaveletThreshold" toml:"medianWaveletThreshold"`

		// DisabledLayers lists layers, 0 based, that are not stored; the
		// residual is layer Layers
		DisabledLayers []int `yaml:"disabledLayers" toml:"disabledLayers"`
	} `yaml:"multiscale" toml:"multiscale"`

	// Noise estimation parameters
	Noise struct {
		K          float64 `yaml:"k" toml:"k"`
		Epsilon    float64 `yaml:"epsilon" toml:"epsilon"`
		Iterations int     `yaml:"iterations" toml:"iterations"`
	} `yaml:"noise" toml:"noise"`

	// Output parameters
	Output struct {
		// Directory receives layer images
		Directory string `yaml:"directory" toml:"directory"`

		// SaveLayers writes every layer as PNG
		SaveLayers bool `yaml:"saveLayers" toml:"saveLayers"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose" toml:"verbose"`

		// JSONLog selects JSON formatted logs
		JSONLog bool `yaml:"jsonLog" toml:"jsonLog"`
	} `yaml:"output" toml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Parallel = parallel.DefaultConfig()

	cfg.Convolution.Kernel = "b3"
	cfg.Convolution.Sigma = 2.0

	cfg.Morphology.Operator = "median"
	cfg.Morphology.Parameter = 0.5
	cfg.Morphology.Structure = "standard"
	cfg.Morphology.Size = 5

	cfg.Multiscale.Mode = "atrous"
	cfg.Multiscale.Layers = 4
	cfg.Multiscale.ScalingFunction = "b3"
	cfg.Multiscale.Delta = 1
	cfg.Multiscale.MedianWaveletThreshold = 5.0

	cfg.Noise.K = 3.0
	cfg.Noise.Epsilon = 0.01
	cfg.Noise.Iterations = 10

	cfg.Output.Directory = "layers"
	cfg.Output.Verbose = false

	return cfg
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error
	if c.Parallel.MaxProcessors < 0 {
		errs = append(errs, fmt.Errorf("parallel.maxProcessors must not be negative"))
	}
	if c.Convolution.Size < 0 || (c.Convolution.Size > 0 && c.Convolution.Size%2 == 0) {
		errs = append(errs, fmt.Errorf("convolution.size must be zero or odd, got %d", c.Convolution.Size))
	}
	if c.Convolution.LowThreshold < 0 || c.Convolution.HighThreshold < 0 {
		errs = append(errs, fmt.Errorf("convolution thresholds must not be negative"))
	}
	if c.Morphology.Size < 1 || c.Morphology.Size%2 == 0 {
		errs = append(errs, fmt.Errorf("morphology.size must be odd and positive, got %d", c.Morphology.Size))
	}
	if c.Multiscale.Layers < 1 || c.Multiscale.Layers > 16 {
		errs = append(errs, fmt.Errorf("multiscale.layers must be between 1 and 16, got %d", c.Multiscale.Layers))
	}
	if c.Multiscale.Linear && c.Multiscale.Delta < 1 {
		errs = append(errs, fmt.Errorf("multiscale.delta must be positive, got %d", c.Multiscale.Delta))
	}
	for _, j := range c.Multiscale.DisabledLayers {
		if j < 0 || j > c.Multiscale.Layers {
			errs = append(errs, fmt.Errorf("multiscale.disabledLayers: layer %d out of range", j))
		}
	}
	if c.Noise.K <= 0 || c.Noise.Epsilon <= 0 || c.Noise.Iterations < 1 {
		errs = append(errs, fmt.Errorf("noise parameters must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// LayerMask returns the enabled flags of the multiscale section
func (c *Config) LayerMask() []bool {
	mask := make([]bool, c.Multiscale.Layers+1)
	for j := range mask {
		mask[j] = true
	}
	for _, j := range c.Multiscale.DisabledLayers {
		if j >= 0 && j < len(mask) {
			mask[j] = false
		}
	}
	return mask
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML or TOML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML or TOML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	if isTOML(configPath) {
		var b strings.Builder
		if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		data = []byte(b.String())
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
