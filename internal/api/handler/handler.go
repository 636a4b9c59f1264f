package handler

import (
	"log/slog"
	"strings"

	"github.com/cuongbtq/scan-orchestrator/internal/config"
	"github.com/cuongbtq/scan-orchestrator/internal/events"
	"github.com/cuongbtq/scan-orchestrator/internal/store"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Store     store.Store
	Publisher events.Publisher
	API       config.APIConfig
}

// ScanHandler handles scan-job HTTP requests
type ScanHandler struct {
	logger       *slog.Logger
	store        store.Store
	publisher    events.Publisher
	allowedHosts map[string]struct{}
}

// NewScanHandler creates a new ScanHandler instance
func NewScanHandler(deps *Dependencies) *ScanHandler {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	// Lowercased to match the lowercased URL host at validation time.
	allowed := make(map[string]struct{}, len(deps.API.AllowedHosts))
	for _, host := range deps.API.AllowedHosts {
		allowed[strings.ToLower(host)] = struct{}{}
	}

	return &ScanHandler{
		logger:       deps.Logger,
		store:        deps.Store,
		publisher:    publisher,
		allowedHosts: allowed,
	}
}
