//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package telemetry sends anonymous usage events. Emitting never blocks the
// caller and never fails a request.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names.
const (
	EventQuestionAsked = "question_asked"
)

// Emitter records a named event.
type Emitter interface {
	Emit(ctx context.Context, name string, props map[string]any)
}

// Event is the payload posted to the telemetry endpoint.
type Event struct {
	Name       string         `json:"event"`
	InstanceID string         `json:"instance_id"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// HTTPEmitter posts events to an endpoint in the background.
type HTTPEmitter struct {
	endpoint   string
	instanceID string
	client     *http.Client
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewHTTPEmitter creates an emitter posting to endpoint. Each post is
// bounded by timeout.
func NewHTTPEmitter(endpoint string, timeout time.Duration, logger *slog.Logger) *HTTPEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPEmitter{
		endpoint:   endpoint,
		instanceID: uuid.NewString(),
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With("component", "telemetry"),
	}
}

// Emit posts the event without waiting for the result. The request is
// detached from ctx so it survives the caller's request.
func (e *HTTPEmitter) Emit(ctx context.Context, name string, props map[string]any) {
	ev := Event{
		Name:       name,
		InstanceID: e.instanceID,
		Properties: props,
		Timestamp:  time.Now().UTC(),
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.post(context.WithoutCancel(ctx), ev); err != nil {
			e.logger.Debug("telemetry event dropped", "event", name, "error", err)
		}
	}()
}

func (e *HTTPEmitter) post(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("telemetry endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Wait blocks until in-flight events finish. Used on shutdown.
func (e *HTTPEmitter) Wait() {
	e.wg.Wait()
}

// LogEmitter writes events to the log at debug level.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a log-backed emitter.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger.With("component", "telemetry")}
}

// Emit logs the event.
func (e *LogEmitter) Emit(ctx context.Context, name string, props map[string]any) {
	e.logger.DebugContext(ctx, "telemetry event", "event", name, "properties", props)
}

var (
	_ Emitter = (*HTTPEmitter)(nil)
	_ Emitter = (*LogEmitter)(nil)
)
