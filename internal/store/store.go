package store

import (
	"context"
	"errors"

	"planner/internal/model"
)

// ErrWorkspaceNotFound is returned for queries against an unknown workspace.
var ErrWorkspaceNotFound = errors.New("store: workspace not found")

// Store is the persistence collaborator the planner reads its anchors from.
// Expanded occurrences are never written back; only raw definitions live
// here.
type Store interface {
	Workspace(ctx context.Context, id string) (model.Workspace, error)
	Plans(ctx context.Context, workspaceID string) ([]model.Plan, error)
	// Stages returns the stages of every plan in the workspace.
	Stages(ctx context.Context, workspaceID string) ([]model.Stage, error)
	Tasks(ctx context.Context, workspaceID string) ([]model.Task, error)
	Events(ctx context.Context, workspaceID string) ([]model.Event, error)

	// ReplaceSourceEvents swaps all events of one calendar subscription in
	// a workspace for the given set.
	ReplaceSourceEvents(ctx context.Context, workspaceID, sourceID string, events []model.Event) error
}
