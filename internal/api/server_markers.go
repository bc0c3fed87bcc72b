package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/stillpointlabs/vidmark/internal/types"
)

func registerMarkerHandlers(api huma.API, svc Service) {
	type listMarkersOutput struct {
		Body struct {
			Markers []types.Marker `json:"markers"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-markers", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/markers", Summary: "List markers for the tab's identified item", Tags: []string{"Markers"}},
		func(ctx context.Context, input *tabIDInput) (*listMarkersOutput, error) {
			markers, err := svc.TabMarkers(input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listMarkersOutput{}
			out.Body.Markers = markers
			if out.Body.Markers == nil {
				out.Body.Markers = []types.Marker{}
			}
			return out, nil
		})

	type addMarkerInput struct {
		TabID string `path:"tab_id"`
		Body  struct {
			Position float64 `json:"position" doc:"Playback position in seconds"`
			Category string  `json:"category,omitempty" doc:"Marker category; defaults to manual"`
			Text     string  `json:"text,omitempty"`
		}
	}
	type markerOutput struct {
		Body types.Marker
	}
	huma.Register(api, huma.Operation{OperationID: "add-marker", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/markers", Summary: "Create a marker on the tab's identified item", Tags: []string{"Markers"}},
		func(ctx context.Context, input *addMarkerInput) (*markerOutput, error) {
			m, err := svc.AddMarker(ctx, input.TabID, input.Body.Position, input.Body.Category, input.Body.Text)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &markerOutput{}
			out.Body = m
			return out, nil
		})

	type markerIDInput struct {
		MarkerID string `path:"marker_id"`
	}
	type deleteMarkerOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "delete-marker", Method: http.MethodDelete, Path: "/api/v1/markers/{marker_id}", Summary: "Delete a marker from the store and any scrubber it is rendered on", Tags: []string{"Markers"}},
		func(ctx context.Context, input *markerIDInput) (*deleteMarkerOutput, error) {
			if err := svc.DeleteMarker(ctx, input.MarkerID); err != nil {
				return nil, mapErr(err)
			}
			out := &deleteMarkerOutput{}
			out.Body.Status = "deleted"
			return out, nil
		})

	type signalInput struct {
		TabID string `path:"tab_id"`
		Body  types.TriggerSignal
	}
	type signalOutput struct {
		Body struct {
			Status string        `json:"status"`
			Marker *types.Marker `json:"marker,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "trigger-signal", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/signal", Summary: "Deliver an annotation start/stop signal", Tags: []string{"Markers"}},
		func(ctx context.Context, input *signalInput) (*signalOutput, error) {
			m, err := svc.HandleSignal(ctx, input.TabID, input.Body)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &signalOutput{}
			out.Body.Marker = m
			if m != nil {
				out.Body.Status = "marker_created"
			} else {
				out.Body.Status = "anchored"
			}
			return out, nil
		})
}
