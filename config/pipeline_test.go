package config_test

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/shipdocs_backend/config"
)

func TestPipelineConfigDefaults(t *testing.T) {
	t.Setenv("EXTRACTION_AUTO_APPROVE_THRESHOLD", "")
	t.Setenv("EXTRACTION_REVIEW_THRESHOLD", "")
	t.Setenv("EXTRACTION_MAX_ATTEMPTS", "")
	t.Setenv("EXTRACTION_TIMEOUT_SECONDS", "")

	cfg := config.GetPipelineConfig()
	if cfg.AutoApproveThreshold != 0.7 {
		t.Fatalf("auto approve threshold = %v, want 0.7", cfg.AutoApproveThreshold)
	}
	if cfg.ReviewThreshold != 0.4 {
		t.Fatalf("review threshold = %v, want 0.4", cfg.ReviewThreshold)
	}
	if cfg.MaxAttempts != 3 {
		t.Fatalf("max attempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.DocumentTimeout != 120*time.Second {
		t.Fatalf("timeout = %s, want 120s", cfg.DocumentTimeout)
	}
}

func TestPipelineConfigEnvOverridesAndBadValues(t *testing.T) {
	t.Setenv("EXTRACTION_AUTO_APPROVE_THRESHOLD", "0.85")
	t.Setenv("EXTRACTION_REVIEW_THRESHOLD", "not-a-number")
	t.Setenv("EXTRACTION_MAX_ATTEMPTS", "5")
	t.Setenv("EXTRACTION_TIMEOUT_SECONDS", "30")

	cfg := config.GetPipelineConfig()
	if cfg.AutoApproveThreshold != 0.85 {
		t.Fatalf("auto approve threshold = %v, want 0.85", cfg.AutoApproveThreshold)
	}
	if cfg.ReviewThreshold != 0.4 {
		t.Fatalf("unparseable review threshold = %v, want default 0.4", cfg.ReviewThreshold)
	}
	if cfg.MaxAttempts != 5 {
		t.Fatalf("max attempts = %d, want 5", cfg.MaxAttempts)
	}
	if cfg.DocumentTimeout != 30*time.Second {
		t.Fatalf("timeout = %s, want 30s", cfg.DocumentTimeout)
	}
}

func TestPipelineConfigClampsMaxAttempts(t *testing.T) {
	for _, value := range []string{"0", "-1"} {
		t.Setenv("EXTRACTION_MAX_ATTEMPTS", value)
		if got := config.GetPipelineConfig().MaxAttempts; got != 1 {
			t.Fatalf("EXTRACTION_MAX_ATTEMPTS=%s: max attempts = %d, want 1", value, got)
		}
	}
}
