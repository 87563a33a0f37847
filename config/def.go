package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCameraWidth   = 640
	DefaultCameraHeight  = 480
	DefaultDisplayWidth  = 960
	DefaultFrameInterval = 33
	DefaultJPEGQuality   = 85
	DefaultTimeout       = 5
)

type CameraConfig struct {
	Device int `yaml:"device"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type PreviewConfig struct {
	DisplayWidth    int `yaml:"displayWidth"`
	FrameIntervalMs int `yaml:"frameIntervalMs"`
	JPEGQuality     int `yaml:"jpegQuality"`
}

func (p PreviewConfig) FrameInterval() time.Duration {
	return time.Duration(p.FrameIntervalMs) * time.Millisecond
}

type KeypointConfig struct {
	Backend        string `yaml:"backend"`
	Address        string `yaml:"address"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

func (k KeypointConfig) Timeout() time.Duration {
	return time.Duration(k.TimeoutSeconds) * time.Second
}

type GarmentEntry struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

type Config struct {
	RPCPort       int    `yaml:"RPCPort"`
	HTTPPort      int    `yaml:"HTTPPort"`
	MetricsPort   int    `yaml:"MetricsPort"`
	LogMode       string `yaml:"LogMode"`
	UseRegServer  bool   `yaml:"UseRegServer"`
	RegServerPort int    `yaml:"RegServerPort"`
	RegServerHost string `yaml:"RegServerHost"`

	Camera   CameraConfig   `yaml:"camera"`
	Preview  PreviewConfig  `yaml:"preview"`
	Keypoint KeypointConfig `yaml:"keypoint"`
	Garments []GarmentEntry `yaml:"garments"`
}

// Load reads and parses the yaml file at path. The returned notes describe
// every value that was replaced by a default.
func Load(path string) (*Config, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, []string, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, nil, fmt.Errorf("parse config: %w", err)
	}
	notes := cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, notes, err
	}
	return cfg, notes, nil
}

func (c *Config) applyDefaults() []string {
	var notes []string
	def := func(v *int, d int, name string) {
		if *v <= 0 {
			*v = d
			notes = append(notes, fmt.Sprintf("invalid or missing %s, defaulting to %d", name, d))
		}
	}
	def(&c.RPCPort, 50051, "RPCPort")
	def(&c.HTTPPort, 8080, "HTTPPort")
	def(&c.MetricsPort, 50053, "MetricsPort")
	def(&c.Camera.Width, DefaultCameraWidth, "camera.width")
	def(&c.Camera.Height, DefaultCameraHeight, "camera.height")
	def(&c.Preview.DisplayWidth, DefaultDisplayWidth, "preview.displayWidth")
	def(&c.Preview.FrameIntervalMs, DefaultFrameInterval, "preview.frameIntervalMs")
	def(&c.Preview.JPEGQuality, DefaultJPEGQuality, "preview.jpegQuality")
	def(&c.Keypoint.TimeoutSeconds, DefaultTimeout, "keypoint.timeoutSeconds")
	if c.Preview.JPEGQuality > 100 {
		c.Preview.JPEGQuality = 100
		notes = append(notes, "preview.jpegQuality above 100, clamped")
	}
	if c.Keypoint.Backend == "" {
		c.Keypoint.Backend = "grpc"
		notes = append(notes, "keypoint.backend not set, defaulting to grpc")
	}
	if c.LogMode == "" {
		c.LogMode = "production"
	}
	return notes
}

func (c *Config) validate() error {
	switch c.Keypoint.Backend {
	case "grpc", "http":
	default:
		return fmt.Errorf("unsupported keypoint backend: %s", c.Keypoint.Backend)
	}
	if c.Keypoint.Address == "" {
		return fmt.Errorf("keypoint.address cannot be empty")
	}
	seen := make(map[string]bool, len(c.Garments))
	for _, g := range c.Garments {
		if g.ID == "" || g.Path == "" {
			return fmt.Errorf("garment entries need both id and path, got %+v", g)
		}
		if seen[g.ID] {
			return fmt.Errorf("duplicate garment id %q", g.ID)
		}
		seen[g.ID] = true
	}
	if c.UseRegServer && c.RegServerHost == "" {
		return fmt.Errorf("UseRegServer is set but RegServerHost is empty")
	}
	return nil
}
