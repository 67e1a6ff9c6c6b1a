package config_test

import (
	"errors"
	"testing"

	"policyeval/internal/config"

	"github.com/stretchr/testify/assert"
)

func validConfig() config.Config {
	return config.Config{
		APIKey:               "key",
		GeminiAPIKey:         "gm-key",
		ChunkSize:            500,
		ChunkOverlap:         50,
		EmbeddingDimension:   768,
		IngestionConcurrency: 8,
		QAConcurrency:        8,
		NSQMaxAttempts:       5,
		RerankProvider:       "none",
		DBHost:               "localhost",
		DBUser:               "user",
		DBName:               "db",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
		errIs   error
	}{
		{
			name:   "Valid Config",
			mutate: func(c *config.Config) {},
		},
		{
			name:    "Missing Gemini Key",
			mutate:  func(c *config.Config) { c.GeminiAPIKey = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Missing API Key",
			mutate:  func(c *config.Config) { c.APIKey = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Overlap Equals Size",
			mutate:  func(c *config.Config) { c.ChunkOverlap = 500 },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
		{
			name:    "Negative Overlap",
			mutate:  func(c *config.Config) { c.ChunkOverlap = -1 },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
		{
			name:    "Zero Chunk Size",
			mutate:  func(c *config.Config) { c.ChunkSize = 0 },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
		{
			name:    "Negative Cache Size",
			mutate:  func(c *config.Config) { c.EmbeddingCacheSize = -1 },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
		{
			name:    "Unknown Rerank Provider",
			mutate:  func(c *config.Config) { c.RerankProvider = "acme" },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
		{
			name:   "DB Fields Ignored When Disabled",
			mutate: func(c *config.Config) { c.DBHost = "" },
		},
		{
			name:    "Missing DBHost",
			mutate:  func(c *config.Config) { c.DBEnabled = true; c.DBHost = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Missing DBName",
			mutate:  func(c *config.Config) { c.DBEnabled = true; c.DBName = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Zero NSQ Attempts",
			mutate:  func(c *config.Config) { c.NSQMaxAttempts = 0 },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
		{
			name:    "NSQ Without DB",
			mutate:  func(c *config.Config) { c.NSQEnabled = true },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errIs != nil {
					assert.True(t, errors.Is(err, tt.errIs))
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
