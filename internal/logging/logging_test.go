package logging

import (
	"errors"
	"testing"

	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	defer goleak.VerifyNone(t)

	for _, production := range []bool{false, true} {
		logger, flush, err := New("debug", production)
		require.NoError(t, err)
		logger.Info("cart updated", "cart_id", 1)
		assert.True(t, logger.V(1).Enabled())
		require.NotNil(t, flush)
		_ = flush()
	}
}

func TestNew_DefaultsToInfo(t *testing.T) {
	logger, _, err := New("", true)
	require.NoError(t, err)

	assert.True(t, logger.Enabled())
	assert.False(t, logger.V(1).Enabled())
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, _, err := New("chatty", false)

	assert.True(t, errors.Is(err, commonerrors.ErrInvalid))
}

func TestFromZap_KeepsStructuredFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := FromZap(zap.New(core))

	logger.V(1).Info("step replayed from log", "cart_id", int64(7), "step", "payment")
	logger.Error(errors.New("boom"), "record step start")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, int64(7), entries[0].ContextMap()["cart_id"])
	assert.Equal(t, "payment", entries[0].ContextMap()["step"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}
