package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// IngestionSettings holds the thresholds and limits of the invoice pipeline.
//
// Set via env:
// - AUTO_MATCH_THRESHOLD (default 0.85)
// - LOW_CONFIDENCE_THRESHOLD (default 0.6)
// - FUZZY_THRESHOLD (default 0.75)
// - MATCH_TIMEOUT, OCR_TIMEOUT (Go durations, default 5s / 60s)
// - INGEST_WORKERS, INGEST_QUEUE_SIZE, INGEST_MAX_ATTEMPTS
// - INGEST_STALE_AFTER, INGEST_SWEEP_INTERVAL (default 10m / 1m)
// - MAX_UPLOAD_SIZE_MB (default 20)
type IngestionSettings struct {
	AutoMatchThreshold     float64
	LowConfidenceThreshold float64
	FuzzyThreshold         float64
	MatchTimeout           time.Duration
	OCRTimeout             time.Duration
	Workers                int
	QueueSize              int
	MaxAttempts            int
	StaleAfter             time.Duration
	SweepInterval          time.Duration
	MaxUploadBytes         int64
	Currency               string
}

func DefaultIngestionSettings() IngestionSettings {
	return IngestionSettings{
		AutoMatchThreshold:     0.85,
		LowConfidenceThreshold: 0.6,
		FuzzyThreshold:         0.75,
		MatchTimeout:           5 * time.Second,
		OCRTimeout:             60 * time.Second,
		Workers:                4,
		QueueSize:              256,
		MaxAttempts:            3,
		StaleAfter:             10 * time.Minute,
		SweepInterval:          time.Minute,
		MaxUploadBytes:         20 * 1024 * 1024,
		Currency:               "INR",
	}
}

func LoadIngestionSettings() IngestionSettings {
	s := DefaultIngestionSettings()
	s.AutoMatchThreshold = floatFromEnv("AUTO_MATCH_THRESHOLD", s.AutoMatchThreshold)
	s.LowConfidenceThreshold = floatFromEnv("LOW_CONFIDENCE_THRESHOLD", s.LowConfidenceThreshold)
	s.FuzzyThreshold = floatFromEnv("FUZZY_THRESHOLD", s.FuzzyThreshold)
	s.MatchTimeout = durationFromEnv("MATCH_TIMEOUT", s.MatchTimeout)
	s.OCRTimeout = durationFromEnv("OCR_TIMEOUT", s.OCRTimeout)
	s.Workers = intFromEnv("INGEST_WORKERS", s.Workers)
	s.QueueSize = intFromEnv("INGEST_QUEUE_SIZE", s.QueueSize)
	s.MaxAttempts = intFromEnv("INGEST_MAX_ATTEMPTS", s.MaxAttempts)
	s.StaleAfter = durationFromEnv("INGEST_STALE_AFTER", s.StaleAfter)
	s.SweepInterval = durationFromEnv("INGEST_SWEEP_INTERVAL", s.SweepInterval)
	s.MaxUploadBytes = int64(intFromEnv("MAX_UPLOAD_SIZE_MB", 20)) * 1024 * 1024
	if c := strings.TrimSpace(os.Getenv("DEFAULT_CURRENCY")); c != "" {
		s.Currency = strings.ToUpper(c)
	}
	return s
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

func durationFromEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// BoolFromEnv reads 1/true/yes/y as true.
func BoolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// IntFromEnv exposes the package int reader to callers outside config.
func IntFromEnv(key string, def int) int {
	return intFromEnv(key, def)
}

// DurationFromEnv exposes the package duration reader to callers outside config.
func DurationFromEnv(key string, def time.Duration) time.Duration {
	return durationFromEnv(key, def)
}
