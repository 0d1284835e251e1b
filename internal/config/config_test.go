package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWith_Defaults(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Redemption.MaxTimes)
	assert.Equal(t, 6*time.Hour, cfg.Redemption.Cooldown)
	assert.Equal(t, 10, cfg.Redemption.BatchSize)
	assert.Equal(t, "file", cfg.Store.Driver)
	assert.Equal(t, "file", cfg.Export.Sink)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.GetServerAddr())
	assert.True(t, cfg.App.IsDevelopment())
}

func TestLoadWith_Overrides(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"REDEEM_MAX_TIMES": "5",
		"REDEEM_COOLDOWN":  "30m",
		"STORE_DRIVER":     "postgres",
		"DB_NAME":          "leads",
		"APP_ENVIRONMENT":  "production",
		"APP_LOCATION":     "Asia/Shanghai",
	}))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Redemption.MaxTimes)
	assert.Equal(t, 30*time.Minute, cfg.Redemption.Cooldown)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Contains(t, cfg.Database.GetDatabaseURL(), "dbname=leads")
	assert.True(t, cfg.App.IsProduction())
	assert.Equal(t, "Asia/Shanghai", cfg.App.GetLocation().String())
}

func TestLoadWith_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver":    {"STORE_DRIVER": "sqlite"},
		"zero batch size":   {"REDEEM_BATCH_SIZE": "0"},
		"s3 without bucket": {"EXPORT_SINK": "s3"},
		"bad location":      {"APP_LOCATION": "Nowhere/City"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadWith(context.Background(), envconfig.MapLookuper(env))
			assert.Error(t, err)
		})
	}
}
