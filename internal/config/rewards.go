package config

import (
	"os"
	"strconv"
	"time"
)

type RewardsConfig struct {
	InitialGrant            int64
	TransferScoreMultiplier int64
	MaxBoostAmount          int64
	ReactionWeights         map[string]int64
	StackWeight             int64
	RecencyBonusMax         int64
	RecencyWindow           time.Duration
	ChartCacheTTL           time.Duration
	SweepBatchSize          int
}

func LoadRewardsConfig() *RewardsConfig {
	return &RewardsConfig{
		InitialGrant:            getEnvAsInt64("TICKLE_INITIAL_GRANT", 10),
		TransferScoreMultiplier: getEnvAsInt64("TICKLE_SCORE_MULTIPLIER", 10),
		MaxBoostAmount:          getEnvAsInt64("TICKLE_MAX_BOOST", 10000),
		ReactionWeights: map[string]int64{
			"love":     getEnvAsInt64("SCORE_WEIGHT_LOVE", 2),
			"fire":     getEnvAsInt64("SCORE_WEIGHT_FIRE", 3),
			"sad":      getEnvAsInt64("SCORE_WEIGHT_SAD", 1),
			"bullseye": getEnvAsInt64("SCORE_WEIGHT_BULLSEYE", 4),
		},
		StackWeight:     getEnvAsInt64("SCORE_WEIGHT_STACK", 2),
		RecencyBonusMax: getEnvAsInt64("SCORE_RECENCY_MAX", 100),
		RecencyWindow:   getEnvAsDuration("SCORE_RECENCY_WINDOW", 7*24*time.Hour),
		ChartCacheTTL:   getEnvAsDuration("CHART_CACHE_TTL", 1*time.Minute),
		SweepBatchSize:  int(getEnvAsInt64("SCORE_SWEEP_BATCH", 200)),
	}
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
