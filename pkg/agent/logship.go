package agent

import (
	"context"
	"time"

	"github.com/plfm/plfm/pkg/log"
	"github.com/plfm/plfm/pkg/nodeapi"
	"github.com/plfm/plfm/pkg/types"
)

// LogSender opens log streams toward the control plane
type LogSender interface {
	SendWorkloadLogs(ctx context.Context) (*nodeapi.LogStream, error)
}

const (
	logBufferSize    = 4096
	logBatchSize     = 256
	logFlushInterval = 2 * time.Second
)

// LogForwarder buffers workload log lines and ships them in batches.
// A full buffer drops new lines rather than blocking the workload.
type LogForwarder struct {
	nodeID string
	sender LogSender
	lines  chan *types.WorkloadLogLine
}

// NewLogForwarder creates a forwarder for one node
func NewLogForwarder(nodeID string, sender LogSender) *LogForwarder {
	return &LogForwarder{
		nodeID: nodeID,
		sender: sender,
		lines:  make(chan *types.WorkloadLogLine, logBufferSize),
	}
}

// Enqueue accepts one line, truncating oversized payloads. Returns
// false when the buffer is full and the line was dropped.
func (f *LogForwarder) Enqueue(line *types.WorkloadLogLine) bool {
	if len(line.Line) > types.MaxLogLineBytes {
		line.Line = line.Line[:types.MaxLogLineBytes]
		line.Truncated = true
	}
	select {
	case f.lines <- line:
		return true
	default:
		return false
	}
}

// Run ships batches until ctx is cancelled, then flushes what remains
func (f *LogForwarder) Run(ctx context.Context) {
	logger := log.WithComponent("agent")
	ticker := time.NewTicker(logFlushInterval)
	defer ticker.Stop()

	batch := make([]*types.WorkloadLogLine, 0, logBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := f.ship(ctx, batch); err != nil {
			logger.Warn().Err(err).Int("lines", len(batch)).Msg("log shipment failed, dropping batch")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			f.drain(&batch)
			if len(batch) > 0 {
				if err := f.ship(context.Background(), batch); err != nil {
					logger.Warn().Err(err).Msg("final log flush failed")
				}
			}
			return
		case line := <-f.lines:
			batch = append(batch, line)
			if len(batch) >= logBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (f *LogForwarder) drain(batch *[]*types.WorkloadLogLine) {
	for {
		select {
		case line := <-f.lines:
			*batch = append(*batch, line)
		default:
			return
		}
	}
}

func (f *LogForwarder) ship(ctx context.Context, batch []*types.WorkloadLogLine) error {
	stream, err := f.sender.SendWorkloadLogs(ctx)
	if err != nil {
		return err
	}
	if err := stream.Send(&nodeapi.LogBatch{NodeID: f.nodeID, Lines: batch}); err != nil {
		return err
	}
	_, err = stream.CloseAndRecv()
	return err
}
