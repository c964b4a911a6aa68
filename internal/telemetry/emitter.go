// -----------------------------------------------------------------------
// Telemetry emitter - newline-delimited JSON sink with optional best-effort
// forwarding to an external tracing service.
// -----------------------------------------------------------------------

package telemetry

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/loomworks/loom/internal/common"
	"github.com/loomworks/loom/internal/interfaces"
)

// Emitter writes NDJSON event records to a sink file and, when enabled,
// POSTs each record to an external tracing endpoint. All failures are
// swallowed after logging; telemetry never breaks the pipeline.
type Emitter struct {
	mu           sync.Mutex
	file         *os.File
	traceURL     string
	traceEnabled bool
	client       *http.Client
	logger       arbor.ILogger
}

var _ interfaces.Emitter = (*Emitter)(nil)

// NewEmitter opens (or creates) the sink file and configures the trace client
func NewEmitter(cfg *common.TelemetryConfig, logger arbor.ILogger) (*Emitter, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &Emitter{
		file:         file,
		traceURL:     cfg.TraceURL,
		traceEnabled: cfg.TraceEnabled && cfg.TraceURL != "",
		client:       &http.Client{Timeout: 2 * time.Second},
		logger:       logger,
	}, nil
}

// EmitEvent writes one event record. The record always carries event_type
// and an ISO UTC timestamp; the payload supplies job_id, project_id,
// node_name, duration_ms and metadata as applicable.
func (e *Emitter) EmitEvent(kind string, payload map[string]any) {
	record := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		record[k] = v
	}
	record["event_type"] = kind
	record["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(record)
	if err != nil {
		e.logger.Warn().Err(err).Str("event_type", kind).Msg("Failed to marshal telemetry event")
		return
	}

	e.mu.Lock()
	if e.file != nil {
		if _, err := e.file.Write(append(data, '\n')); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to write telemetry event")
		}
	}
	e.mu.Unlock()

	if e.traceEnabled {
		// Fire-and-forget; the trace service must never stall a node.
		go e.postTrace(data)
	}
}

func (e *Emitter) postTrace(data []byte) {
	resp, err := e.client.Post(e.traceURL, "application/json", bytes.NewReader(data))
	if err != nil {
		e.logger.Debug().Err(err).Msg("Trace POST failed")
		return
	}
	resp.Body.Close()
}

// Close flushes and closes the sink file
func (e *Emitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file == nil {
		return nil
	}
	err := e.file.Close()
	e.file = nil
	return err
}
