package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/glyphcore/taskgraph/config"
)

func TestNewConfigDefaults(t *testing.T) {
	c := config.NewConfig()

	assert.Equal(t, 256, c.QueueDepth)
	assert.True(t, c.TaskManager.Enabled)
	assert.Equal(t, 30*time.Second, time.Duration(c.Sync.Timeout))
	assert.Equal(t, 4, c.Engine.DefaultPoolSize)
	assert.Equal(t, "none", c.Metric.Service)
	assert.Equal(t, 4, c.PoolSize("unlisted-accessor"))
}

func TestPoolSizeFallsBackToDefault(t *testing.T) {
	c := config.NewConfig()
	c.Engine.PoolSizes["gpu"] = 8

	assert.Equal(t, 8, c.PoolSize("gpu"))
	assert.Equal(t, c.Engine.DefaultPoolSize, c.PoolSize("cpu"))
}

func TestMarshalRoundTrips(t *testing.T) {
	c := config.NewConfig()
	c.Metric.Service = "prometheus"
	c.Engine.PoolSizes["gpu"] = 8

	buf, err := config.Marshal(c)
	assert.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "taskgraph.toml")
	assert.NoError(t, os.WriteFile(path, buf, 0o644))

	loaded, err := config.Load(path)
	assert.NoError(t, err)
	assert.Equal(t, c.Metric.Service, loaded.Metric.Service)
	assert.Equal(t, c.Engine.PoolSizes["gpu"], loaded.Engine.PoolSizes["gpu"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	assert.Error(t, err)
}
