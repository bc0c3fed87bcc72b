package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/stillpointlabs/vidmark/internal/fixture"
	"github.com/stillpointlabs/vidmark/internal/lifecycle"
	"github.com/stillpointlabs/vidmark/internal/types"
)

func registerTabHandlers(api huma.API, svc Service) {
	type listTabsOutput struct {
		Body struct {
			Tabs []types.TabInfo `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List tracked tabs", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*listTabsOutput, error) {
			out := &listTabsOutput{}
			out.Body.Tabs = svc.ListTabs()
			if out.Body.Tabs == nil {
				out.Body.Tabs = []types.TabInfo{}
			}
			return out, nil
		})

	type mediaStatusOutput struct {
		Body lifecycle.Status
	}
	huma.Register(api, huma.Operation{OperationID: "tab-media", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/media", Summary: "Media detection status for a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*mediaStatusOutput, error) {
			st, err := svc.TabStatus(input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &mediaStatusOutput{}
			out.Body = st
			return out, nil
		})

	type scrubberOutput struct {
		Body struct {
			State            string  `json:"state"`
			ScrubberStrategy string  `json:"scrubber_strategy,omitempty"`
			MarkerCount      int     `json:"marker_count"`
			Duration         float64 `json:"duration,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "tab-scrubber", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/scrubber", Summary: "Scrubber locator status for a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*scrubberOutput, error) {
			st, err := svc.TabStatus(input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &scrubberOutput{}
			out.Body.State = st.State
			out.Body.ScrubberStrategy = st.ScrubberStrategy
			out.Body.MarkerCount = st.MarkerCount
			out.Body.Duration = st.Duration
			return out, nil
		})

	type detectInput struct {
		TabID string `path:"tab_id"`
		Body  struct {
			Reason string `json:"reason,omitempty" doc:"Free-form reason recorded in logs"`
		}
	}
	type detectOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "force-detect", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/detect", Summary: "Force re-detection, resetting the retry budget", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *detectInput) (*detectOutput, error) {
			if err := svc.ForceDetect(input.TabID, input.Body.Reason); err != nil {
				return nil, mapErr(err)
			}
			out := &detectOutput{}
			out.Body.Status = "detecting"
			return out, nil
		})

	type seekInput struct {
		TabID string `path:"tab_id"`
		Body  struct {
			Position float64 `json:"position" doc:"Target playback position in seconds"`
		}
	}
	type seekOutput struct {
		Body struct {
			Position float64 `json:"position"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "seek", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/seek", Summary: "Seek the detected media", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *seekInput) (*seekOutput, error) {
			pos, err := svc.Seek(ctx, input.TabID, input.Body.Position)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &seekOutput{}
			out.Body.Position = pos
			return out, nil
		})

	type fixtureInput struct {
		TabID string `path:"tab_id"`
		Body  struct {
			Notes string `json:"notes,omitempty" doc:"Free-form annotation for the capture"`
		}
	}
	type fixtureOutput struct {
		Body fixture.Meta
	}
	huma.Register(api, huma.Operation{OperationID: "capture-fixture", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/fixture", Summary: "Capture the tab's DOM as a selector fixture", Tags: []string{"Fixtures"}},
		func(ctx context.Context, input *fixtureInput) (*fixtureOutput, error) {
			meta, err := svc.CaptureFixture(ctx, input.TabID, input.Body.Notes)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &fixtureOutput{}
			out.Body = meta
			return out, nil
		})
}
