package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dezod123/bar-scan-platform/internal/catalog"
	"github.com/dezod123/bar-scan-platform/internal/codes"
	"github.com/google/uuid"
)

func (c *APIClient) CreateProduct(ctx context.Context, name string, category codes.Category) (*catalog.Entry, error) {
	req := struct {
		Name         string `json:"name"`
		CodeCategory string `json:"code_category"`
	}{
		Name:         name,
		CodeCategory: string(category),
	}

	var entry catalog.Entry
	if _, err := c.do(ctx, http.MethodPost, "/products", req, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *APIClient) GetProduct(ctx context.Context, id uuid.UUID) (*catalog.Entry, error) {
	var entry catalog.Entry
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/products/%s", id), nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *APIClient) ListProducts(ctx context.Context) ([]*catalog.Entry, error) {
	var entries []*catalog.Entry
	if _, err := c.do(ctx, http.MethodGet, "/products", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
