package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/board"
	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/events"
)

type handlers struct {
	repo Repository
	idem Idempotency
	pub  events.Publisher
	log  *log.Logger
}

// errBadBody marks undecodable request bodies.
var errBadBody = errors.New("invalid body")

// writeError maps an error onto its status code and failure body.
func (h *handlers) writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	body := ErrorResponse{Error: err.Error()}

	var ve *board.ValidationError
	switch {
	case errors.Is(err, errBadBody):
		status = http.StatusBadRequest
	case errors.As(err, &ve):
		status = http.StatusUnprocessableEntity
		body.Error = ve.Message
		body.Issues = ve.Issues
	case errors.Is(err, board.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, board.ErrConflict):
		status = http.StatusConflict
	default:
		h.log.WithError(err).WithField("path", c.Path()).Error("request failed")
		body.Error = "internal error"
	}
	return c.JSON(status, body)
}

func bind(c echo.Context, v any) error {
	dec := json.NewDecoder(c.Request().Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errBadBody
	}
	return nil
}

func ok(c echo.Context) error {
	return c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

func (h *handlers) changed(boardID, entity, id, action string) {
	h.pub.BoardChanged(events.BoardChangedData{BoardID: boardID, Entity: entity, EntityID: id, Action: action})
}

// columnBoard resolves the board a column belongs to. Lookup failures only
// cost the notification.
func (h *handlers) columnBoard(ctx context.Context, columnID string) string {
	col, err := h.repo.FindColumn(ctx, columnID)
	if err != nil {
		return ""
	}
	return col.BoardID
}

func (h *handlers) healthz(c echo.Context) error {
	if err := h.repo.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) getBoard(c echo.Context) error {
	b, err := h.repo.GetBoardContext(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *handlers) updateBoard(c echo.Context) error {
	var patch board.BoardPatch
	if err := bind(c, &patch); err != nil {
		return h.writeError(c, err)
	}
	b, err := h.repo.UpdateBoard(c.Request().Context(), c.Param("id"), patch)
	if err != nil {
		return h.writeError(c, err)
	}
	h.changed(b.ID, "board", b.ID, "updated")
	return c.JSON(http.StatusOK, b)
}

func (h *handlers) moveCard(c echo.Context) error {
	var req MoveCardRequest
	if err := bind(c, &req); err != nil {
		return h.writeError(c, err)
	}
	if err := req.validate(); err != nil {
		return h.writeError(c, err)
	}
	res, err := h.repo.MoveCard(c.Request().Context(), c.Param("id"), req.TargetColumnID, *req.Order)
	if err != nil {
		return h.writeError(c, err)
	}
	h.changed(res.BoardID, "card", res.CardID, "moved")
	return ok(c)
}

func (h *handlers) moveColumn(c echo.Context) error {
	var req MoveColumnRequest
	if err := bind(c, &req); err != nil {
		return h.writeError(c, err)
	}
	if err := req.validate(); err != nil {
		return h.writeError(c, err)
	}
	col, err := h.repo.MoveColumn(c.Request().Context(), c.Param("id"), *req.Order)
	if err != nil {
		return h.writeError(c, err)
	}
	h.changed(col.BoardID, "column", col.ID, "moved")
	return ok(c)
}

func (h *handlers) reorderColumns(c echo.Context) error {
	var req ReorderColumnsRequest
	if err := bind(c, &req); err != nil {
		return h.writeError(c, err)
	}
	if err := h.repo.ReorderColumns(c.Request().Context(), req.BoardID, req.ColumnOrders); err != nil {
		return h.writeError(c, err)
	}
	h.changed(req.BoardID, "board", req.BoardID, "reordered")
	return ok(c)
}

func (h *handlers) updateCard(c echo.Context) error {
	var patch board.CardPatch
	if err := bind(c, &patch); err != nil {
		return h.writeError(c, err)
	}
	ctx := c.Request().Context()
	card, err := h.repo.UpdateCard(ctx, c.Param("id"), patch)
	if err != nil {
		return h.writeError(c, err)
	}
	h.changed(h.columnBoard(ctx, card.ColumnID), "card", card.ID, "updated")
	return c.JSON(http.StatusOK, card)
}

func (h *handlers) updateColumn(c echo.Context) error {
	var patch board.ColumnPatch
	if err := bind(c, &patch); err != nil {
		return h.writeError(c, err)
	}
	col, err := h.repo.UpdateColumn(c.Request().Context(), c.Param("id"), patch)
	if err != nil {
		return h.writeError(c, err)
	}
	h.changed(col.BoardID, "column", col.ID, "updated")
	return c.JSON(http.StatusOK, col)
}

func (h *handlers) createCard(c echo.Context) error {
	var in board.NewCard
	if err := bind(c, &in); err != nil {
		return h.writeError(c, err)
	}
	ctx := c.Request().Context()
	return h.idempotent(c, "card", func() (any, string, error) {
		card, err := h.repo.CreateCard(ctx, in)
		if err != nil {
			return nil, "", err
		}
		h.changed(h.columnBoard(ctx, card.ColumnID), "card", card.ID, "created")
		return card, card.ID, nil
	})
}

func (h *handlers) createColumn(c echo.Context) error {
	var in board.NewColumn
	if err := bind(c, &in); err != nil {
		return h.writeError(c, err)
	}
	return h.idempotent(c, "column", func() (any, string, error) {
		col, err := h.repo.CreateColumn(c.Request().Context(), in)
		if err != nil {
			return nil, "", err
		}
		h.changed(col.BoardID, "column", col.ID, "created")
		return col, col.ID, nil
	})
}

// idempotent runs create at most once per Idempotency-Key. A replay returns
// the stored record; a concurrent duplicate gets 409 so the client retries.
// Idempotency store failures degrade to a plain create.
func (h *handlers) idempotent(c echo.Context, scope string, create func() (any, string, error)) error {
	ctx := c.Request().Context()
	key := c.Request().Header.Get(HeaderIdempotencyKey)
	if key == "" || h.idem == nil {
		rec, _, err := create()
		if err != nil {
			return h.writeError(c, err)
		}
		return c.JSON(http.StatusCreated, rec)
	}
	key = scope + ":" + key

	state, stored, err := h.idem.Begin(ctx, key)
	if err != nil {
		h.log.WithError(err).Warn("idempotency store unavailable")
		state = IdempotencyNew
	}
	switch state {
	case IdempotencyDone:
		return c.JSONBlob(http.StatusCreated, stored)
	case IdempotencyInFlight:
		return c.JSON(http.StatusConflict, ErrorResponse{Error: "request with this idempotency key is in progress"})
	}

	rec, id, err := create()
	if err != nil {
		if rerr := h.idem.Release(ctx, key); rerr != nil {
			h.log.WithError(rerr).WithField("key", key).Warn("failed to release idempotency key")
		}
		return h.writeError(c, err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return h.writeError(c, err)
	}
	if err := h.idem.Complete(ctx, key, data); err != nil {
		h.log.WithError(err).WithField("id", id).Warn("failed to store idempotent result")
	}
	return c.JSONBlob(http.StatusCreated, data)
}

func (h *handlers) deleteCard(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	var boardID string
	if card, err := h.repo.FindCard(ctx, id); err == nil {
		boardID = h.columnBoard(ctx, card.ColumnID)
	}
	if err := h.repo.DeleteCard(ctx, id); err != nil {
		return h.writeError(c, err)
	}
	h.changed(boardID, "card", id, "deleted")
	return ok(c)
}

func (h *handlers) deleteColumn(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	boardID := h.columnBoard(ctx, id)
	if err := h.repo.DeleteColumn(ctx, id); err != nil {
		return h.writeError(c, err)
	}
	h.changed(boardID, "column", id, "deleted")
	return ok(c)
}
