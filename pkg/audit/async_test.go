package audit

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/hrm/pkg/async"
	"github.com/platinummonkey/hrm/pkg/observability"
)

func TestAsyncLogger_WritesThroughPool(t *testing.T) {
	sink := &memoryLogger{}
	pool := async.NewPool("audit", 1, 4, observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{}))
	logger := NewAsyncLogger(sink, pool)

	event := &Event{EventType: EventTypeRoleCreate, Status: EventStatusSuccess, ResourceID: "4"}
	require.NoError(t, logger.Log(context.Background(), event))
	// Later edits by the caller do not leak into the queued copy
	event.ResourceID = "changed"

	require.NoError(t, pool.Shutdown(context.Background()))
	require.Len(t, sink.events, 1)
	assert.Equal(t, "4", sink.events[0].ResourceID)
}

func TestAsyncLogger_ReportsDrops(t *testing.T) {
	pool := async.NewPool("audit", 1, 1, observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{}))
	require.NoError(t, pool.Shutdown(context.Background()))

	err := NewAsyncLogger(&memoryLogger{}, pool).Log(context.Background(), &Event{EventType: EventTypeLogin})
	assert.ErrorIs(t, err, async.ErrPoolClosed)
}
