package digest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewScheduler_RejectsBadSpec(t *testing.T) {
	_, err := NewScheduler(nil, nil, "every now and then", 5, nil)
	assert.Error(t, err)

	s, err := NewScheduler(nil, nil, "@every 15m", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultMinMessages, s.minMessages)
}

func TestScheduler_RunOnce(t *testing.T) {
	st := openTestStore(t)
	addMessages(t, st, "busy", 4)
	addMessages(t, st, "quiet", 1)

	c := replying(`{"summary":"recap","confidence":0.5}`)
	s, err := NewScheduler(NewBatcher(st, c, "m"), st, "*/5 * * * *", 3, nil)
	require.NoError(t, err)

	created, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, int32(1), c.calls.Load())

	created, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestScheduler_StartStop(t *testing.T) {
	st := openTestStore(t)
	core, logs := observer.New(zap.InfoLevel)
	s, err := NewScheduler(NewBatcher(st, replying("{}"), "m"), st, "@every 1h", 1, zap.New(core))
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	<-s.Stop().Done()
	assert.Equal(t, 1, logs.FilterMessage("digest scheduler started").Len())
}
