package api

import "github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/board"

// HeaderIdempotencyKey carries the client operation id of a create call.
const HeaderIdempotencyKey = "Idempotency-Key"

// ErrorResponse is the failure body of every endpoint.
type ErrorResponse struct {
	Error  string        `json:"error"`
	Issues []board.Issue `json:"issues,omitempty"`
}

// SuccessResponse is the body of move, reorder and delete calls.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// MoveCardRequest is the body of POST /api/cards/:id/move.
type MoveCardRequest struct {
	TargetColumnID string `json:"targetColumnId"`
	Order          *int   `json:"order"`
}

// MoveColumnRequest is the body of POST /api/columns/:id/move.
type MoveColumnRequest struct {
	Order *int `json:"order"`
}

// ReorderColumnsRequest is the body of PATCH /api/columns/reorder.
type ReorderColumnsRequest struct {
	BoardID      string              `json:"boardId"`
	ColumnOrders []board.ColumnOrder `json:"columnOrders"`
}

func (r *MoveCardRequest) validate() error {
	var issues []board.Issue
	if r.TargetColumnID == "" {
		issues = append(issues, board.Issue{Field: "targetColumnId", Message: "targetColumnId is required"})
	}
	if r.Order == nil {
		issues = append(issues, board.Issue{Field: "order", Message: "order is required"})
	}
	if len(issues) > 0 {
		return board.NewValidationError("invalid move", issues...)
	}
	return nil
}

func (r *MoveColumnRequest) validate() error {
	if r.Order == nil {
		return board.NewValidationError("invalid move", board.Issue{Field: "order", Message: "order is required"})
	}
	return nil
}
