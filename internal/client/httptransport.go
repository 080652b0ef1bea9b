package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/board"
)

// HTTPTransport talks to the persistence service over HTTP.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport creates a transport for the service at baseURL. A nil
// client gets a default with a 10 second timeout.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type errorBody struct {
	Error  string        `json:"error"`
	Issues []board.Issue `json:"issues,omitempty"`
}

type moveCardBody struct {
	TargetColumnID string `json:"targetColumnId"`
	Order          int    `json:"order"`
}

type moveColumnBody struct {
	Order int `json:"order"`
}

type reorderBody struct {
	BoardID      string              `json:"boardId"`
	ColumnOrders []board.ColumnOrder `json:"columnOrders"`
}

func (t *HTTPTransport) FetchBoard(ctx context.Context, boardID string) (*board.Board, error) {
	var b board.Board
	if err := t.do(ctx, http.MethodGet, "/api/boards/"+url.PathEscape(boardID), nil, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (t *HTTPTransport) MoveCard(ctx context.Context, cardID, columnID string, index int) error {
	body := moveCardBody{TargetColumnID: columnID, Order: index}
	return t.do(ctx, http.MethodPost, "/api/cards/"+url.PathEscape(cardID)+"/move", nil, body, nil)
}

func (t *HTTPTransport) MoveColumn(ctx context.Context, columnID string, index int) error {
	return t.do(ctx, http.MethodPost, "/api/columns/"+url.PathEscape(columnID)+"/move", nil, moveColumnBody{Order: index}, nil)
}

func (t *HTTPTransport) ReorderColumns(ctx context.Context, boardID string, orders []board.ColumnOrder) error {
	return t.do(ctx, http.MethodPatch, "/api/columns/reorder", nil, reorderBody{BoardID: boardID, ColumnOrders: orders}, nil)
}

func (t *HTTPTransport) UpdateCard(ctx context.Context, id string, patch board.CardPatch) (*board.Card, error) {
	var c board.Card
	if err := t.do(ctx, http.MethodPatch, "/api/cards/"+url.PathEscape(id), nil, patch, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *HTTPTransport) UpdateColumn(ctx context.Context, id string, patch board.ColumnPatch) (*board.Column, error) {
	var c board.Column
	if err := t.do(ctx, http.MethodPatch, "/api/columns/"+url.PathEscape(id), nil, patch, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *HTTPTransport) UpdateBoard(ctx context.Context, id string, patch board.BoardPatch) (*board.Board, error) {
	var b board.Board
	if err := t.do(ctx, http.MethodPatch, "/api/boards/"+url.PathEscape(id), nil, patch, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (t *HTTPTransport) CreateCard(ctx context.Context, key string, in board.NewCard) (*board.Card, error) {
	var c board.Card
	if err := t.do(ctx, http.MethodPost, "/api/cards", idempotencyHeader(key), in, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *HTTPTransport) CreateColumn(ctx context.Context, key string, in board.NewColumn) (*board.Column, error) {
	var c board.Column
	if err := t.do(ctx, http.MethodPost, "/api/columns", idempotencyHeader(key), in, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *HTTPTransport) DeleteCard(ctx context.Context, id string) error {
	return t.do(ctx, http.MethodDelete, "/api/cards/"+url.PathEscape(id), nil, nil, nil)
}

func (t *HTTPTransport) DeleteColumn(ctx context.Context, id string) error {
	return t.do(ctx, http.MethodDelete, "/api/columns/"+url.PathEscape(id), nil, nil, nil)
}

func idempotencyHeader(key string) http.Header {
	if key == "" {
		return nil
	}
	h := http.Header{}
	h.Set("Idempotency-Key", key)
	return h
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, header http.Header, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeFailure(method, path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// decodeFailure maps a failure response onto the error taxonomy.
func decodeFailure(method, path string, resp *http.Response) error {
	var body errorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return board.NewValidationError(body.Error, body.Issues...)
	case http.StatusNotFound:
		return fmt.Errorf("%s %s: %s: %w", method, path, body.Error, board.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s %s: %s: %w", method, path, body.Error, board.ErrConflict)
	default:
		return fmt.Errorf("%s %s: server returned %d: %s", method, path, resp.StatusCode, body.Error)
	}
}
