package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/config"
)

func TestNew_Disabled_PingAndCloseAreNoops(t *testing.T) {
	c := New(config.RedisConfig{Enabled: false}, zap.NewNop())

	assert.NoError(t, c.Ping(context.Background()))
	assert.NoError(t, c.Close())
}

func TestSeenOrMark_Disabled_AlwaysReportsNotSeen(t *testing.T) {
	c := New(config.RedisConfig{Enabled: false}, zap.NewNop())

	seen, err := c.SeenOrMark(context.Background(), "uuid-1")

	assert.NoError(t, err)
	assert.False(t, seen, "a disabled idempotency cache must never report an event as seen")
}
