package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dezod123/bar-scan-platform/internal/codes"
	"github.com/dezod123/bar-scan-platform/internal/journal"
	"github.com/dezod123/bar-scan-platform/internal/scans"
	"github.com/google/uuid"
)

func (c *APIClient) RecordScan(ctx context.Context, codeValue string, category codes.Category) (*scans.RecordResult, error) {
	req := struct {
		CodeValue    string `json:"code_value"`
		CodeCategory string `json:"code_category"`
	}{
		CodeValue:    codeValue,
		CodeCategory: string(category),
	}

	var result scans.RecordResult
	if _, err := c.do(ctx, http.MethodPost, "/scans", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *APIClient) UpdateAction(ctx context.Context, id uuid.UUID, action scans.Disposition) (*scans.Event, error) {
	req := struct {
		Action string `json:"action"`
	}{
		Action: string(action),
	}

	var event scans.Event
	if _, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/scans/%s/action", id), req, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// ListScans lists scans, restricted to action unless it is empty.
func (c *APIClient) ListScans(ctx context.Context, action scans.Disposition) ([]*scans.Event, error) {
	path := "/scans"
	if action != "" {
		path += "?" + url.Values{"action": {string(action)}}.Encode()
	}

	var events []*scans.Event
	if _, err := c.do(ctx, http.MethodGet, path, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Events reads one page of the journal after the given cursor.
func (c *APIClient) Events(ctx context.Context, after int64, limit int) ([]journal.Event, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(after, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var events []journal.Event
	if _, err := c.do(ctx, http.MethodGet, "/events?"+q.Encode(), nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}
