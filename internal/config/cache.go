package config

import (
	"time"

	"github.com/spf13/viper"
)

// PredictCacheConfig controls the prediction result cache. Results are kept
// in Redis when a client is available and in process memory otherwise.
type PredictCacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

func setCacheDefaults(v *viper.Viper) {
	v.SetDefault("PREDICT_CACHE_ENABLED", true)
	v.SetDefault("PREDICT_CACHE_TTL", "24h")
	v.SetDefault("PREDICT_CACHE_PREFIX", "predict")
}

func loadCacheConfig(v *viper.Viper) PredictCacheConfig {
	c := PredictCacheConfig{
		Enabled: v.GetBool("PREDICT_CACHE_ENABLED"),
		TTL:     v.GetDuration("PREDICT_CACHE_TTL"),
		Prefix:  v.GetString("PREDICT_CACHE_PREFIX"),
	}
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	return c
}
