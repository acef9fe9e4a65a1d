package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionIDRoundTripsThroughContext(t *testing.T) {
	id := NewSessionID()
	ctx := WithSessionID(context.Background(), id)

	assert.Equal(t, id, GetSessionID(ctx))
	assert.Empty(t, GetSessionID(context.Background()))

	entry := ContextEntry(ctx)
	assert.Equal(t, id, entry.Data[SessionField])
	assert.NotContains(t, ContextEntry(context.Background()).Data, SessionField)
}
