package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/plfm/plfm/pkg/types"
)

func TestEnqueueTruncatesOversizedLines(t *testing.T) {
	f := NewLogForwarder("node_1", nil)

	line := &types.WorkloadLogLine{Line: strings.Repeat("x", types.MaxLogLineBytes+100)}
	assert.True(t, f.Enqueue(line))
	assert.Len(t, line.Line, types.MaxLogLineBytes)
	assert.True(t, line.Truncated)
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	f := NewLogForwarder("node_1", nil)

	for i := 0; i < logBufferSize; i++ {
		assert.True(t, f.Enqueue(&types.WorkloadLogLine{Line: "ok"}))
	}
	assert.False(t, f.Enqueue(&types.WorkloadLogLine{Line: "dropped"}))
}
