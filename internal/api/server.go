// Package api exposes the coordinator over REST plus a per-tab SSE event
// stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stillpointlabs/vidmark/internal/agent"
	"github.com/stillpointlabs/vidmark/internal/fixture"
	"github.com/stillpointlabs/vidmark/internal/lifecycle"
	"github.com/stillpointlabs/vidmark/internal/tabrouter"
	"github.com/stillpointlabs/vidmark/internal/types"
)

// Service is the operation surface the HTTP layer exposes. Implemented by
// agent.Coordinator.
type Service interface {
	Status() agent.AgentStatus
	ListTabs() []types.TabInfo
	TabStatus(tabID string) (lifecycle.Status, error)
	ForceDetect(tabID, reason string) error
	Seek(ctx context.Context, tabID string, position float64) (float64, error)
	TabMarkers(tabID string) ([]types.Marker, error)
	AddMarker(ctx context.Context, tabID string, position float64, category, text string) (types.Marker, error)
	DeleteMarker(ctx context.Context, markerID string) error
	HandleSignal(ctx context.Context, tabID string, sig types.TriggerSignal) (*types.Marker, error)
	CaptureFixture(ctx context.Context, tabID, notes string) (fixture.Meta, error)
	Subscribe(tabID string) (int64, <-chan types.UIMessage)
	Unsubscribe(tabID string, id int64)
	TabContexts() []tabrouter.TabContext
}

type tabIDInput struct {
	TabID string `path:"tab_id"`
}

func NewServer(svc Service) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("vidmark API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", serveHTML(docsHTML))
	router.Get("/docs/events", serveHTML(eventsDocsHTML))
	router.Get("/api/v1/docs/events", serveHTML(eventsDocsHTML))
	router.Get("/api/v1/events", eventsHandler(svc))

	registerStatusHandlers(api, svc)
	registerTabHandlers(api, svc)
	registerMarkerHandlers(api, svc)

	return router
}

func serveHTML(page string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(page)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *types.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case types.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case types.CodeTabNotFound, types.CodeMediaNotFound,
			types.CodeScrubberNotFound, types.CodeMarkerNotFound,
			types.CodeFixtureNotFound:
			return huma.Error404NotFound(coded.Message)
		case types.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case types.CodeCDPUnavailable, types.CodeBackendUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
