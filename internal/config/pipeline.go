package config

import (
	"os"
	"strconv"
	"time"
)

type PipelineConfig struct {
	Currency           string
	PhonePrefix        string
	PhoneLength        int
	MaskMarker         string
	MaxWebhookBytes    int64
	PipelineTimeout    time.Duration
	MaxReconcileWindow time.Duration
	EventChannel       string
	ReceiptQueue       string
	EventBuffer        int
}

func LoadPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Currency:           getEnv("PIPELINE_CURRENCY", "KES"),
		PhonePrefix:        getEnv("PIPELINE_PHONE_PREFIX", "254"),
		PhoneLength:        getEnvAsInt("PIPELINE_PHONE_LENGTH", 12),
		MaskMarker:         getEnv("PIPELINE_MASK_MARKER", "*"),
		MaxWebhookBytes:    int64(getEnvAsInt("PIPELINE_MAX_WEBHOOK_BYTES", 1_048_576)),
		PipelineTimeout:    getEnvAsDuration("PIPELINE_TIMEOUT", 25*time.Second),
		MaxReconcileWindow: getEnvAsDuration("PIPELINE_MAX_RECONCILE_WINDOW", 90*24*time.Hour),
		EventChannel:       getEnv("PIPELINE_EVENT_CHANNEL", "payments:events"),
		ReceiptQueue:       getEnv("PIPELINE_RECEIPT_QUEUE", "receipts:queue"),
		EventBuffer:        getEnvAsInt("PIPELINE_EVENT_BUFFER", 256),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}
