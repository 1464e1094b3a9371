package server

import (
	"waveline/internal/domain"
	"waveline/internal/marker"
	"waveline/internal/scope"
)

type CreateEpicRequest struct {
	Title string `json:"title" minLength:"1"`
	Body  string `json:"body,omitempty"`
	Waves int    `json:"waves" minimum:"1"`
}

type EpicResponse struct {
	Number     int    `json:"number"`
	Title      string `json:"title"`
	Waves      int    `json:"waves"`
	ActiveWave string `json:"active_wave,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func epicResponse(e domain.Epic) EpicResponse {
	return EpicResponse{Number: e.Number, Title: e.Title, Waves: e.Waves, ActiveWave: e.ActiveWave, CreatedAt: e.CreatedAt}
}

type CreateItemRequest struct {
	Wave  string `json:"wave" minLength:"1"`
	Title string `json:"title" minLength:"1"`
	Body  string `json:"body,omitempty"`
}

type ItemResponse struct {
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	Body      string   `json:"body,omitempty"`
	State     string   `json:"state"`
	Phase     string   `json:"phase"`
	Labels    []string `json:"labels,omitempty"`
	Assignee  string   `json:"assignee,omitempty"`
	Epic      int      `json:"epic,omitempty"`
	Wave      string   `json:"wave,omitempty"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
	ClosedAt  *string  `json:"closed_at,omitempty"`
}

func itemResponse(i domain.WorkItem) ItemResponse {
	return ItemResponse{
		Number:    i.Number,
		Title:     i.Title,
		Body:      i.Body,
		State:     i.State,
		Phase:     i.Phase,
		Labels:    i.Labels,
		Assignee:  i.Assignee,
		Epic:      i.Epic,
		Wave:      i.Wave,
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
		ClosedAt:  i.ClosedAt,
	}
}

func mapItems(items []domain.WorkItem) []ItemResponse {
	out := make([]ItemResponse, 0, len(items))
	for _, i := range items {
		out = append(out, itemResponse(i))
	}
	return out
}

type TransitionRequest struct {
	From string `json:"from" minLength:"1"`
	To   string `json:"to" minLength:"1"`
}

type DeclareScopeRequest struct {
	Claimed  []string `json:"claimed" minItems:"1"`
	Excluded []string `json:"excluded,omitempty"`
}

type ConflictResponse struct {
	Item      int      `json:"item"`
	Other     int      `json:"other"`
	Resources []string `json:"resources"`
}

func mapConflicts(in []scope.Conflict) []ConflictResponse {
	out := make([]ConflictResponse, 0, len(in))
	for _, c := range in {
		out = append(out, ConflictResponse{Item: c.Item, Other: c.Other, Resources: c.Resources})
	}
	return out
}

type ScopeResponse struct {
	Declaration domain.ScopeDeclaration `json:"declaration"`
	Unresolved  []domain.ScopeConflict  `json:"unresolved,omitempty"`
}

type ResolveConflictRequest struct {
	Other     int    `json:"other"`
	Agreement string `json:"agreement" minLength:"1"`
}

type CheckpointRequest struct {
	WorkLog          string          `json:"work_log"`
	Snapshot         marker.Snapshot `json:"snapshot"`
	ChangedResources []string        `json:"changed_resources"`
	Commits          []string        `json:"commits,omitempty"`
	Branch           string          `json:"branch"`
	NextAction       string          `json:"next_action"`
	Outcome          string          `json:"outcome,omitempty"`
	Final            bool            `json:"final,omitempty"`
}

func (r CheckpointRequest) toMarker() marker.Checkpoint {
	return marker.Checkpoint{
		WorkLog:          r.WorkLog,
		Snapshot:         r.Snapshot,
		ChangedResources: r.ChangedResources,
		Commits:          r.Commits,
		Branch:           r.Branch,
		NextAction:       r.NextAction,
		Outcome:          r.Outcome,
	}
}

type VerdictRequest struct {
	Result string `json:"result" enum:"PASS,FAIL,pass,fail"`
	Note   string `json:"note,omitempty"`
}

type ViolationResponse struct {
	ID      string `json:"id"`
	Item    int    `json:"item"`
	ActorID string `json:"actor_id"`
	Kind    string `json:"kind"`
	Count   int    `json:"count"`
	Level   string `json:"level"`
}

func mapViolations(in []domain.Violation) []ViolationResponse {
	out := make([]ViolationResponse, 0, len(in))
	for _, v := range in {
		out = append(out, ViolationResponse{ID: v.ID, Item: v.Item, ActorID: v.ActorID, Kind: v.Kind, Count: v.Count, Level: v.Level})
	}
	return out
}

type RecordViolationRequest struct {
	Actor string `json:"actor" minLength:"1"`
	Kind  string `json:"kind" minLength:"1"`
	Note  string `json:"note,omitempty"`
}

type ClearViolationRequest struct {
	ViolationID string `json:"violation_id" minLength:"1"`
	Correction  string `json:"correction" minLength:"1"`
}

type PatternRequest struct {
	Cycle int    `json:"cycle" minimum:"1"`
	Note  string `json:"note" minLength:"1"`
}

type EscalationRequest struct {
	Addressee string `json:"addressee" minLength:"1"`
	Note      string `json:"note,omitempty"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	Epic       string `json:"epic,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json,omitempty"`
}

func mapEvents(in []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(in))
	for _, e := range in {
		out = append(out, EventResponse{ID: e.ID, TS: e.TS, Type: e.Type, Epic: e.Epic, EntityKind: e.EntityKind, EntityID: e.EntityID, ActorID: e.ActorID, Payload: e.Payload})
	}
	return out
}
