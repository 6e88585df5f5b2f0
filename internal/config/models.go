package config

import "time"

// ModelsConfig describes the text and image models the gateway drives.
type ModelsConfig struct {
	Text  TextModelsConfig  `yaml:"text"`
	Image ImageModelsConfig `yaml:"image"`
}

// TextModelsConfig configures the fallback orchestrator.
type TextModelsConfig struct {
	// Queue is the default model preference order, most preferred first.
	Queue           []string             `yaml:"queue"`
	Temperature     float64              `yaml:"temperature"`
	TopP            float64              `yaml:"top_p"`
	TopK            int                  `yaml:"top_k"`
	MaxOutputTokens int                  `yaml:"max_output_tokens"`
	Retry           RetryConfig          `yaml:"retry"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	MaxJitter     time.Duration `yaml:"max_jitter"`
	MaxRetryAfter time.Duration `yaml:"max_retry_after"`
}

type CircuitBreakerConfig struct {
	Enabled               bool          `yaml:"enabled"`
	FailureThreshold      int           `yaml:"failure_threshold"`
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`
}

// ImageModelsConfig configures prediction polling and the two render recipes.
type ImageModelsConfig struct {
	PollInterval time.Duration         `yaml:"poll_interval"`
	MaxAttempts  int                   `yaml:"max_attempts"`
	Standard     StandardModelConfig   `yaml:"standard"`
	ControlNet   ControlNetModelConfig `yaml:"controlnet"`
}

type StandardModelConfig struct {
	Version        string  `yaml:"version"`
	Scheduler      string  `yaml:"scheduler"`
	Refine         string  `yaml:"refine"`
	NegativePrompt string  `yaml:"negative_prompt"`
	DefaultSize    int     `yaml:"default_size"`
	LoraScale      float64 `yaml:"lora_scale"`
	GuidanceScale  float64 `yaml:"guidance_scale"`
	HighNoiseFrac  float64 `yaml:"high_noise_frac"`
	ApplyWatermark bool    `yaml:"apply_watermark"`
}

type ControlNetModelConfig struct {
	Version           string  `yaml:"version"`
	NegativePrompt    string  `yaml:"negative_prompt"`
	DefaultResolution int     `yaml:"default_resolution"`
	LowThreshold      int     `yaml:"low_threshold"`
	HighThreshold     int     `yaml:"high_threshold"`
	DDIMSteps         int     `yaml:"ddim_steps"`
	Scale             float64 `yaml:"scale"`
}

// DefaultModelQueue is used when neither the caller nor models.yaml names a queue.
var DefaultModelQueue = []string{
	"gemini-2.5-pro",
	"gemini-2.5-flash",
	"gemini-pro-latest",
	"gemini-flash-latest",
	"gemini-2.0-flash",
	"gemini-2.0-flash-lite",
}

func DefaultModelsConfig() *ModelsConfig {
	return &ModelsConfig{
		Text: TextModelsConfig{
			Queue:           append([]string(nil), DefaultModelQueue...),
			Temperature:     0.7,
			TopP:            0.95,
			TopK:            64,
			MaxOutputTokens: 2048,
			Retry: RetryConfig{
				MaxRetries:    2,
				BaseDelay:     600 * time.Millisecond,
				MaxDelay:      8 * time.Second,
				MaxJitter:     250 * time.Millisecond,
				MaxRetryAfter: 30 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:               false,
				FailureThreshold:      5,
				RecoveryProbeInterval: 30 * time.Second,
			},
		},
		Image: ImageModelsConfig{
			PollInterval: 1500 * time.Millisecond,
			MaxAttempts:  60,
			Standard: StandardModelConfig{
				Version:        "39ed52f2a78e934b3ba6e2a89f5b1c712de7dfea535525255b1aa35c5565e08b",
				Scheduler:      "K_EULER",
				Refine:         "expert_ensemble_refiner",
				NegativePrompt: "text, watermark, low quality, distorted, blurry, bad anatomy",
				DefaultSize:    1024,
				LoraScale:      0.6,
				GuidanceScale:  7.5,
				HighNoiseFrac:  0.8,
			},
			ControlNet: ControlNetModelConfig{
				Version:           "aff48af9c68d162388d230a2ab003f68d2638d88307bdaf1c2f1ac95079c9613",
				NegativePrompt:    "longbody, lowres, bad anatomy, bad hands, missing fingers, extra digit, fewer digits, cropped, worst quality, low quality",
				DefaultResolution: 512,
				LowThreshold:      100,
				HighThreshold:     200,
				DDIMSteps:         20,
				Scale:             9.0,
			},
		},
	}
}
