// Package server exposes the coordination engine over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"waveline/internal/checkpoint"
	"waveline/internal/domain"
	"waveline/internal/engine"
	"waveline/internal/marker"
	"waveline/internal/phase"
	"waveline/internal/repo"
	"waveline/internal/scope"
	"waveline/internal/store"
	"waveline/internal/violation"
	"waveline/internal/wave"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	Repo     *repo.Repo
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"illegal_transition"`
	Message string         `json:"message" example:"illegal transition: dev_open -> review_open"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Waveline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Waveline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerEpics(group, cfg.Engine)
	registerItems(group, cfg.Engine)
	registerScope(group, cfg.Engine)
	registerCheckpoints(group, cfg.Engine)
	registerVerdicts(group, cfg.Engine)
	registerViolations(group, cfg.Engine)
	registerHooks(group, cfg.Engine)
	if cfg.Repo != nil {
		registerEvents(group, cfg.Repo)
	}

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body:   apiErrorBody{Code: code, Message: message, Details: details},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case errors.Is(err, store.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, engine.ErrAlreadyClaimed):
		return newAPIError(http.StatusConflict, "already_claimed", msg, nil)
	case errors.Is(err, store.ErrRevisionConflict), errors.Is(err, engine.ErrTooManyConflicts), errors.Is(err, engine.ErrStaleState):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case errors.Is(err, scope.ErrAlreadyDeclared):
		return newAPIError(http.StatusConflict, "scope_already_declared", msg, nil)
	case errors.Is(err, phase.ErrInvalidDemotionDirection):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_demotion_direction", msg, nil)
	case errors.Is(err, phase.ErrIllegalTransition), errors.Is(err, phase.ErrUnknownState):
		return newAPIError(http.StatusUnprocessableEntity, "illegal_transition", msg, nil)
	case errors.Is(err, phase.ErrThreadStillOpen):
		return newAPIError(http.StatusUnprocessableEntity, "thread_still_open", msg, nil)
	case errors.Is(err, wave.ErrWaveNotEligible):
		return newAPIError(http.StatusUnprocessableEntity, "wave_not_eligible", msg, nil)
	case errors.Is(err, wave.ErrInvalidWave):
		return newAPIError(http.StatusBadRequest, "invalid_wave", msg, nil)
	case errors.Is(err, violation.ErrBlocked):
		return newAPIError(http.StatusUnprocessableEntity, "blocked", msg, nil)
	case errors.Is(err, violation.ErrPatternNoteMissing):
		return newAPIError(http.StatusUnprocessableEntity, "pattern_note_required", msg, nil)
	case errors.Is(err, violation.ErrEscalationRequired):
		return newAPIError(http.StatusUnprocessableEntity, "escalation_required", msg, nil)
	case errors.Is(err, engine.ErrUnrecoverable):
		return newAPIError(http.StatusUnprocessableEntity, "unrecoverable_state", msg, nil)
	case errors.Is(err, engine.ErrVerdictOutsideReview):
		return newAPIError(http.StatusUnprocessableEntity, "verdict_outside_review", msg, nil)
	case errors.Is(err, engine.ErrSelfApproval):
		return newAPIError(http.StatusUnprocessableEntity, "self_approval", msg, nil)
	case errors.Is(err, checkpoint.ErrIncompleteCheckpoint):
		return newAPIError(http.StatusUnprocessableEntity, "incomplete_checkpoint", msg, nil)
	case errors.Is(err, marker.ErrMalformedBlock):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errors.Is(err, engine.ErrNotAnEpic), errors.Is(err, engine.ErrNotAWorkItem):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Status string `json:"status" example:"ok"`
		}
	}, error) {
		resp := &struct {
			Body struct {
				Status string `json:"status" example:"ok"`
			}
		}{}
		resp.Body.Status = "ok"
		return resp, nil
	})
}

func registerEpics(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-epic",
		Method:        http.MethodPost,
		Path:          "/epics",
		Summary:       "Create epic",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateEpicRequest `json:"body"`
	}) (*struct {
		Body EpicResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ep, err := e.CreateEpic(ctx, input.Body.Title, input.Body.Body, input.Body.Waves, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EpicResponse `json:"body"`
		}{Body: epicResponse(ep)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-epics",
		Method:      http.MethodGet,
		Path:        "/epics",
		Summary:     "List epics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []EpicResponse `json:"body"`
	}, error) {
		eps, err := e.ListEpics(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EpicResponse, 0, len(eps))
		for _, ep := range eps {
			out = append(out, epicResponse(ep))
		}
		return &struct {
			Body []EpicResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-epic",
		Method:      http.MethodGet,
		Path:        "/epics/{number}",
		Summary:     "Get epic",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Number int `path:"number"`
	}) (*struct {
		Body EpicResponse `json:"body"`
	}, error) {
		ep, err := e.GetEpic(ctx, input.Number)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EpicResponse `json:"body"`
		}{Body: epicResponse(ep)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "epic-waves",
		Method:      http.MethodGet,
		Path:        "/epics/{number}/waves",
		Summary:     "Per-wave progress for an epic",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Number int `path:"number"`
	}) (*struct {
		Body []domain.WaveStatus `json:"body"`
	}, error) {
		waves, err := e.WaveStatus(ctx, input.Number)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WaveStatus `json:"body"`
		}{Body: waves}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-item",
		Method:        http.MethodPost,
		Path:          "/epics/{number}/items",
		Summary:       "Create work item",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Number int               `path:"number"`
		Body   CreateItemRequest `json:"body"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item, err := e.CreateItem(ctx, engine.CreateItemInput{
			Epic:  input.Number,
			Wave:  input.Body.Wave,
			Title: input.Body.Title,
			Body:  input.Body.Body,
			Actor: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(item)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/epics/{number}/items",
		Summary:     "List an epic's work items",
	}, func(ctx context.Context, input *struct {
		Number int    `path:"number"`
		Wave   string `query:"wave"`
	}) (*struct {
		Body []ItemResponse `json:"body"`
	}, error) {
		items, err := e.ListItems(ctx, input.Number, input.Wave)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ItemResponse `json:"body"`
		}{Body: mapItems(items)}, nil
	})
}

func registerItems(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/items/{number}",
		Summary:     "Get work item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Number int `path:"number"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		item, err := e.GetItem(ctx, input.Number)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(item)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-item",
		Method:      http.MethodPost,
		Path:        "/items/{number}/claim",
		Summary:     "Claim a ready work item",
		Errors:      []int{http.StatusConflict, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Number int `path:"number"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item, err := e.Claim(ctx, input.Number, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(item)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-item",
		Method:      http.MethodPost,
		Path:        "/items/{number}/transitions",
		Summary:     "Request a phase transition",
		Errors:      []int{http.StatusConflict, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Number int               `path:"number"`
		Body   TransitionRequest `json:"body"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item, err := e.RequestTransition(ctx, input.Number, input.Body.From, input.Body.To, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(item)}, nil
	})
}

func registerScope(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "declare-scope",
		Method:        http.MethodPost,
		Path:          "/items/{number}/scope",
		Summary:       "Declare the item's resource scope",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusConflict, http.StatusNotFound, http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Number int                 `path:"number"`
		Body   DeclareScopeRequest `json:"body"`
	}) (*struct {
		Body struct {
			Conflicts []ConflictResponse `json:"conflicts"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		conflicts, err := e.DeclareScope(ctx, input.Number, actorID, input.Body.Claimed, input.Body.Excluded)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Conflicts []ConflictResponse `json:"conflicts"`
			} `json:"body"`
		}{}
		resp.Body.Conflicts = mapConflicts(conflicts)
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-scope",
		Method:      http.MethodGet,
		Path:        "/items/{number}/scope",
		Summary:     "Get the item's scope declaration",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Number int `path:"number"`
	}) (*struct {
		Body ScopeResponse `json:"body"`
	}, error) {
		decl, unresolved, err := e.GetScope(ctx, input.Number)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScopeResponse `json:"body"`
		}{Body: ScopeResponse{Declaration: decl, Unresolved: unresolved}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "resolve-conflict",
		Method:        http.MethodPost,
		Path:          "/items/{number}/scope/resolutions",
		Summary:       "Record a conflict resolution on both items",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Number int                    `path:"number"`
		Body   ResolveConflictRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ResolveConflict(ctx, input.Number, input.Body.Other, input.Body.Agreement, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerCheckpoints(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "post-checkpoint",
		Method:        http.MethodPost,
		Path:          "/items/{number}/checkpoints",
		Summary:       "Post a resumable status checkpoint",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Number int               `path:"number"`
		Body   CheckpointRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.PostCheckpoint(ctx, input.Number, actorID, input.Body.toMarker(), input.Body.Final); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-checkpoint",
		Method:      http.MethodGet,
		Path:        "/items/{number}/checkpoints/latest",
		Summary:     "Get the newest checkpoint",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Number int `path:"number"`
	}) (*struct {
		Body marker.Checkpoint `json:"body"`
	}, error) {
		cp, err := e.LatestCheckpoint(ctx, input.Number)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body marker.Checkpoint `json:"body"`
		}{Body: cp}, nil
	})
}

func registerVerdicts(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "post-verdict",
		Method:        http.MethodPost,
		Path:          "/items/{number}/verdicts",
		Summary:       "Post a review verdict",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Number int            `path:"number"`
		Body   VerdictRequest `json:"body"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item, err := e.PostVerdict(ctx, input.Number, actorID, input.Body.Result, input.Body.Note)
		if err != nil {
			// A FAIL verdict may park the item while a cycle gate waits
			// for its pattern note or escalation; surface where it landed.
			if item.Number != 0 {
				st := handleError(err)
				if ae, ok := st.(*apiError); ok {
					ae.Body.Details = map[string]any{"phase": item.Phase}
				}
				return nil, st
			}
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(item)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-pattern",
		Method:        http.MethodPost,
		Path:          "/items/{number}/pattern",
		Summary:       "Record the third-cycle pattern note",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Number int            `path:"number"`
		Body   PatternRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RecordPattern(ctx, input.Number, actorID, input.Body.Cycle, input.Body.Note); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-escalation",
		Method:        http.MethodPost,
		Path:          "/items/{number}/escalation",
		Summary:       "Escalate runaway review cycles to a human",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Number int               `path:"number"`
		Body   EscalationRequest `json:"body"`
	}) (*struct {
		Body struct {
			Cycle int `json:"cycle"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		esc, err := e.RecordEscalation(ctx, input.Number, actorID, input.Body.Addressee, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Cycle int `json:"cycle"`
			} `json:"body"`
		}{}
		resp.Body.Cycle = esc.Cycle
		return resp, nil
	})
}

func registerViolations(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-violations",
		Method:      http.MethodGet,
		Path:        "/items/{number}/violations",
		Summary:     "List live violations",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Number int `path:"number"`
	}) (*struct {
		Body []ViolationResponse `json:"body"`
	}, error) {
		vs, err := e.ListViolations(ctx, input.Number)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ViolationResponse `json:"body"`
		}{Body: mapViolations(vs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-violation",
		Method:        http.MethodPost,
		Path:          "/items/{number}/violations",
		Summary:       "Record a rule breach",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Number int                    `path:"number"`
		Body   RecordViolationRequest `json:"body"`
	}) (*struct {
		Body ViolationResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		v, err := e.RecordViolation(ctx, input.Number, input.Body.Actor, input.Body.Kind, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ViolationResponse `json:"body"`
		}{Body: ViolationResponse{ID: v.ID, Item: v.Item, ActorID: v.ActorID, Kind: v.Kind, Count: v.Count, Level: v.Level}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "clear-violation",
		Method:        http.MethodPost,
		Path:          "/items/{number}/violations/clear",
		Summary:       "Clear a violation with a recorded correction",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Number int                   `path:"number"`
		Body   ClearViolationRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ClearViolation(ctx, input.Number, input.Body.ViolationID, actorID, input.Body.Correction); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerHooks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "store-hook",
		Method:      http.MethodPost,
		Path:        "/hooks/store",
		Summary:     "Ingest a ticket-store change notification",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body engine.StoreEvent `json:"body"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.HandleStoreEvent(ctx, input.Body); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, r *repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the audit log",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50" maximum:"500"`
		Epic       string `query:"epic"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		evts, err := r.LatestEvents(ctx, limit, input.Epic, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(evts)}, nil
	})
}
