package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ProductionEnvironmentBuildsLogger(t *testing.T) {
	log, err := New("production")

	require.NoError(t, err)
	require.NotNil(t, log)
}

func TestNew_NonProductionEnvironmentBuildsLogger(t *testing.T) {
	log, err := New("development")

	require.NoError(t, err)
	assert.NotNil(t, log)
}
