package model

import (
	"fmt"
	"time"
)

// Config holds all settings for the ingest daemon.
type Config struct {
	InputDir  string `json:"inputDir" mapstructure:"input_dir"`
	OutputDir string `json:"outputDir" mapstructure:"output_dir"`
	QueueDB   string `json:"queueDb" mapstructure:"queue_db"`

	// Subband grouping
	FileExt       string        `json:"fileExt" mapstructure:"file_ext"`
	ExpectedCount int           `json:"expectedCount" mapstructure:"expected_count"`
	MinAcceptable int           `json:"minAcceptable" mapstructure:"min_acceptable"`
	BucketWindow  time.Duration `json:"bucketWindow" mapstructure:"bucket_window"`

	// Timeout monitor
	CompleteTimeout time.Duration `json:"completeTimeout" mapstructure:"complete_timeout"`
	AbandonTimeout  time.Duration `json:"abandonTimeout" mapstructure:"abandon_timeout"`
	SweepInterval   time.Duration `json:"sweepInterval" mapstructure:"sweep_interval"`
	Retention       time.Duration `json:"retention" mapstructure:"retention"`

	// Dispatch
	Workers        int           `json:"workers" mapstructure:"workers"`
	MaxRetries     int           `json:"maxRetries" mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `json:"retryBaseDelay" mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `json:"retryMaxDelay" mapstructure:"retry_max_delay"`
	ConvertTimeout time.Duration `json:"convertTimeout" mapstructure:"convert_timeout"`
	PollInterval   time.Duration `json:"pollInterval" mapstructure:"poll_interval"`

	// Claims pause while the output filesystem has less free space than
	// this. Negative disables the guard.
	DiskMinFreeGB int `json:"diskMinFreeGb" mapstructure:"disk_min_free_gb"`

	// External conversion tool, invoked as: <tool> <output> <member>...
	ConvertTool string `json:"convertTool" mapstructure:"convert_tool"`

	HTTPAddr string `json:"httpAddr" mapstructure:"http_addr"`
	LogLevel string `json:"logLevel" mapstructure:"log_level"`
}

// Normalize fills in defaults for unset fields.
func (c *Config) Normalize() {
	if c.FileExt == "" {
		c.FileExt = "hdf5"
	}
	if c.ExpectedCount == 0 {
		c.ExpectedCount = 16
	}
	if c.MinAcceptable == 0 {
		c.MinAcceptable = 12
	}
	if c.BucketWindow == 0 {
		c.BucketWindow = 5 * time.Minute
	}
	if c.CompleteTimeout == 0 {
		c.CompleteTimeout = 15 * time.Minute
	}
	if c.AbandonTimeout == 0 {
		c.AbandonTimeout = time.Hour
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.Retention == 0 {
		c.Retention = 7 * 24 * time.Hour
	}
	if c.Workers == 0 {
		c.Workers = 2
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = 30 * time.Second
	}
	if c.RetryMaxDelay == 0 {
		c.RetryMaxDelay = 10 * time.Minute
	}
	if c.ConvertTimeout == 0 {
		c.ConvertTimeout = 30 * time.Minute
	}
	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.DiskMinFreeGB == 0 {
		c.DiskMinFreeGB = 5
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the fields that have no sensible default.
func (c *Config) Validate() error {
	if c.InputDir == "" {
		return fmt.Errorf("input_dir is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if c.QueueDB == "" {
		return fmt.Errorf("queue_db is required")
	}
	if c.ConvertTool == "" {
		return fmt.Errorf("convert_tool is required")
	}
	if c.MinAcceptable > c.ExpectedCount {
		return fmt.Errorf("min_acceptable (%d) cannot exceed expected_count (%d)",
			c.MinAcceptable, c.ExpectedCount)
	}
	return nil
}
