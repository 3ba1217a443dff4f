package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// PipelineConfig holds the tunables of the document extraction pipeline.
// Thresholds are configuration, not hardcoded constants.
//
// Env overrides:
// - EXTRACTION_AUTO_APPROVE_THRESHOLD (default 0.7)
// - EXTRACTION_REVIEW_THRESHOLD       (default 0.4)
// - EXTRACTION_MAX_ATTEMPTS           (default 3)
// - EXTRACTION_TIMEOUT_SECONDS        (default 120)
type PipelineConfig struct {
	AutoApproveThreshold float64
	ReviewThreshold      float64
	MaxAttempts          int
	DocumentTimeout      time.Duration
}

func GetPipelineConfig() PipelineConfig {
	maxAttempts := intFromEnv("EXTRACTION_MAX_ATTEMPTS", 3)
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return PipelineConfig{
		AutoApproveThreshold: floatFromEnv("EXTRACTION_AUTO_APPROVE_THRESHOLD", 0.7),
		ReviewThreshold:      floatFromEnv("EXTRACTION_REVIEW_THRESHOLD", 0.4),
		MaxAttempts:          maxAttempts,
		DocumentTimeout:      time.Duration(intFromEnv("EXTRACTION_TIMEOUT_SECONDS", 120)) * time.Second,
	}
}

func floatFromEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
