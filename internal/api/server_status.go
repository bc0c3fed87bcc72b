package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/stillpointlabs/vidmark/internal/agent"
	"github.com/stillpointlabs/vidmark/internal/tabrouter"
)

func registerStatusHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type agentStatusOutput struct {
		Body agent.AgentStatus
	}
	huma.Register(api, huma.Operation{OperationID: "agent-status", Method: http.MethodGet, Path: "/api/v1/status", Summary: "Agent status with per-tab detection detail", Tags: []string{"Status"}},
		func(ctx context.Context, input *struct{}) (*agentStatusOutput, error) {
			out := &agentStatusOutput{}
			out.Body = svc.Status()
			return out, nil
		})

	type contextsOutput struct {
		Body struct {
			Contexts []tabrouter.TabContext `json:"contexts"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-contexts", Method: http.MethodGet, Path: "/api/v1/contexts", Summary: "List tab contexts, stale ones included", Tags: []string{"Status"}},
		func(ctx context.Context, input *struct{}) (*contextsOutput, error) {
			out := &contextsOutput{}
			out.Body.Contexts = svc.TabContexts()
			if out.Body.Contexts == nil {
				out.Body.Contexts = []tabrouter.TabContext{}
			}
			return out, nil
		})
}
