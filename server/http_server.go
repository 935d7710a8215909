// Package server exposes the HTTP ingestion endpoint: an alternate entry
// point for pre-structured event payloads that bypasses the syslog parser
// but shares the channel resolver and ingestor with the raw listeners.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// EventIngestor is the pipeline entry for pre-structured payloads.
type EventIngestor interface {
	Ingest(ctx context.Context, fields map[string]string, senderAddr string) (string, error)
}

type Server struct {
	engine   *gin.Engine
	ingestor EventIngestor
	srv      *http.Server
}

type itemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type ingestResponse struct {
	Processed int         `json:"processed"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	EventIDs  []string    `json:"eventIds"`
	Errors    []itemError `json:"errors,omitempty"`
}

func New(ingestor EventIngestor, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:   engine,
		ingestor: ingestor,
		srv: &http.Server{
			Addr:    addr,
			Handler: engine,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.engine.POST("/api/events", s.handleIngest)
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	logrus.WithField("addr", s.srv.Addr).Info("HTTP server is running")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the route handler for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// handleIngest accepts one JSON object or an array of objects. Items are
// processed independently: one failing item is counted and skipped, the
// rest go through.
func (s *Server) handleIngest(c *gin.Context) {
	items, err := decodeItems(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sender := c.ClientIP()
	resp := ingestResponse{
		Processed: len(items),
		EventIDs:  make([]string, 0, len(items)),
	}

	for idx, item := range items {
		eventID, err := s.ingestor.Ingest(c.Request.Context(), flatten(item), sender)
		if err != nil {
			resp.Failed++
			resp.Errors = append(resp.Errors, itemError{Index: idx, Error: err.Error()})
			logrus.WithError(err).WithField("index", idx).
				Warn("Failed to ingest submitted event")
			continue
		}
		resp.Succeeded++
		resp.EventIDs = append(resp.EventIDs, eventID)
	}

	c.JSON(http.StatusOK, resp)
}

// decodeItems reads the body as either one object or an array of objects.
func decodeItems(c *gin.Context) ([]map[string]any, error) {
	body, err := c.GetRawData()
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, errors.New("empty request body")
	}

	if strings.HasPrefix(trimmed, "[") {
		var items []map[string]any
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("parse event array: %w", err)
		}
		return items, nil
	}

	var item map[string]any
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("parse event object: %w", err)
	}
	return []map[string]any{item}, nil
}

// flatten renders a decoded JSON object as the flat string fields the
// pipeline works on. Nested values are re-encoded as JSON.
func flatten(item map[string]any) map[string]string {
	fields := make(map[string]string, len(item))
	for k, v := range item {
		switch value := v.(type) {
		case string:
			fields[k] = value
		case float64:
			fields[k] = strconv.FormatFloat(value, 'f', -1, 64)
		case bool:
			fields[k] = strconv.FormatBool(value)
		case nil:
			// Drop explicit nulls.
		default:
			if b, err := json.Marshal(value); err == nil {
				fields[k] = string(b)
			}
		}
	}
	return fields
}
