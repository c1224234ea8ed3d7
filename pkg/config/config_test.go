package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ENGINE_DELAY_MS", "250")
	t.Setenv("ENGINE_TIMEOUT_MS", "5000")
	t.Setenv("ENGINE_PRODUCTS", "BTC, ETH ,SOL")
	t.Setenv("ENGINE_INSTANCES", "3")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Delay)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"BTC", "ETH", "SOL"}, cfg.Products)
	assert.Equal(t, 3, cfg.Engines)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("ENGINE_DELAY_MS", "soon")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Delay, cfg.Delay)
	assert.NotEmpty(t, cfg.Products)
}

func TestPartition(t *testing.T) {
	products := []string{"1", "2", "3", "4", "5"}

	parts := Partition(products, 2)
	require.Len(t, parts, 2)
	assert.Equal(t, []string{"1", "2"}, parts[0])
	assert.Equal(t, []string{"3", "4", "5"}, parts[1], "last partition takes the remainder")

	// Every product lands in exactly one partition.
	seen := map[string]int{}
	for _, p := range parts {
		for _, id := range p {
			seen[id]++
		}
	}
	for _, id := range products {
		assert.Equal(t, 1, seen[id])
	}
}

func TestPartitionDegenerateCases(t *testing.T) {
	assert.Len(t, Partition([]string{"a"}, 4), 1, "never more partitions than products")
	assert.Len(t, Partition(nil, 2), 0)
	assert.Len(t, Partition([]string{"a", "b"}, 0), 1)
}
