package authcore

import (
	"io"

	"go.uber.org/zap"

	"github.com/lendloop/authcore/internal/audit"
)

// AuditEvent is one security-relevant outcome emitted by the Engine.
type AuditEvent = audit.Event

// AuditSink receives audit events from the Engine's dispatcher goroutine.
// Implementations must be safe for use by a single goroutine and should not
// block for long; a slow sink backs up the buffer.
type AuditSink = audit.Sink

// NoOpSink drops every event.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers events in a channel, mostly useful in tests.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes newline-delimited JSON.
type JSONWriterSink = audit.JSONWriterSink

// ZapSink writes events to a zap logger.
type ZapSink = audit.ZapSink

func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }

func NewZapSink(logger *zap.Logger) *ZapSink { return audit.NewZapSink(logger) }
