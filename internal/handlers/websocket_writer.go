package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	arborlevels "github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/lustro/internal/common"
)

// Buffer for log batches between arbor and the broadcast goroutine
const logBatchBuffer = 10

// WebSocketWriter drains arbor's log batch channel and broadcasts each
// line to connected WebSocket clients. The channel is attached to the
// logger with SetChannel; the writer owns the consuming goroutine.
type WebSocketWriter struct {
	handler         *WebSocketHandler
	channel         chan []arbormodels.LogEvent
	minLevel        arbor.LogLevel
	excludePatterns []string
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
}

// NewWebSocketWriter creates a log-to-WebSocket bridge. Nil config falls
// back to info level with the default exclude patterns.
func NewWebSocketWriter(handler *WebSocketHandler, wsConfig *common.WebSocketConfig) *WebSocketWriter {
	minLevel := arbor.InfoLevel
	if wsConfig != nil && wsConfig.MinLevel != "" {
		minLevel = parseLogLevel(wsConfig.MinLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketWriter{
		handler:  handler,
		channel:  make(chan []arbormodels.LogEvent, logBatchBuffer),
		minLevel: minLevel,
		// Handler and middleware chatter would echo through the socket
		// and trigger more of itself; keep it out of the stream
		excludePatterns: []string{
			"WebSocket client",
			"HTTP request",
			"HTTP response",
			"Publishing event",
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Channel returns the batch channel to attach via logger.SetChannel
func (w *WebSocketWriter) Channel() chan []arbormodels.LogEvent {
	return w.channel
}

// Start launches the consuming goroutine
func (w *WebSocketWriter) Start() {
	w.wg.Add(1)
	go w.consume()
}

// Close stops the consumer and waits for it to drain
func (w *WebSocketWriter) Close() error {
	w.cancel()
	w.wg.Wait()
	return nil
}

func (w *WebSocketWriter) consume() {
	defer w.wg.Done()

	for {
		select {
		case batch, ok := <-w.channel:
			if !ok {
				return
			}
			for _, event := range batch {
				if !w.shouldBroadcast(event) {
					continue
				}
				w.handler.BroadcastLog(LogEntry{
					Timestamp: event.Timestamp.Format("15:04:05"),
					Level:     convertTo3Letter(event.Level.String()),
					Message:   formatLogMessage(event),
				})
			}

		case <-w.ctx.Done():
			return
		}
	}
}

func (w *WebSocketWriter) shouldBroadcast(event arbormodels.LogEvent) bool {
	if arborlevels.FromLogLevel(event.Level) < w.minLevel {
		return false
	}

	for _, pattern := range w.excludePatterns {
		if strings.Contains(event.Message, pattern) {
			return false
		}
	}

	return true
}

// formatLogMessage appends structured fields to the message line
func formatLogMessage(event arbormodels.LogEvent) string {
	message := event.Message
	for key, value := range event.Fields {
		message += fmt.Sprintf(" %s=%v", key, value)
	}
	return message
}

// parseLogLevel converts string log level to arbor.LogLevel
func parseLogLevel(levelStr string) arbor.LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug":
		return arbor.DebugLevel
	case "info":
		return arbor.InfoLevel
	case "warn", "warning":
		return arbor.WarnLevel
	case "error":
		return arbor.ErrorLevel
	default:
		return arbor.InfoLevel
	}
}

// convertTo3Letter converts full level names to 3-letter codes
func convertTo3Letter(level string) string {
	switch strings.ToUpper(level) {
	case "INFO":
		return "INF"
	case "WARN", "WARNING":
		return "WRN"
	case "ERROR":
		return "ERR"
	case "DEBUG":
		return "DBG"
	default:
		if len(level) == 3 {
			return strings.ToUpper(level)
		}
		return "INF"
	}
}
