package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/praeco/internal/common"
)

func TestNewEngine(t *testing.T) {
	t.Run("CLI provider with resolvable binary", func(t *testing.T) {
		binary := writeStubEngine(t, "exit 0")
		eng, err := NewEngine(testEngineConfig(binary), common.GetLogger())
		require.NoError(t, err)
		assert.IsType(t, &CLIEngine{}, eng)
	})

	t.Run("CLI provider with missing binary fails startup", func(t *testing.T) {
		config := testEngineConfig("no-such-engine-binary")
		_, err := NewEngine(config, common.GetLogger())
		var spawnErr *SpawnError
		require.ErrorAs(t, err, &spawnErr)
	})

	t.Run("API provider requires a key", func(t *testing.T) {
		config := common.EngineConfig{Provider: "api"}
		_, err := NewEngine(config, common.GetLogger())
		assert.Error(t, err)

		config.APIKey = "test-key"
		config.Model = "claude-haiku-3-5-20241022"
		eng, err := NewEngine(config, common.GetLogger())
		require.NoError(t, err)
		assert.IsType(t, &APIEngine{}, eng)
	})

	t.Run("Unknown provider", func(t *testing.T) {
		_, err := NewEngine(common.EngineConfig{Provider: "grpc"}, common.GetLogger())
		assert.Error(t, err)
	})
}
