package models

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

const (
	FieldsTable = "fields"

	// catalog statuses that block new reservations
	fieldStatusMaintenance = "maintenance"
	fieldStatusUnavailable = "unavailable"
)

// catalogID accepts both numeric and string primary keys.
type catalogID string

func (id *catalogID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = catalogID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = catalogID(n.String())
	return nil
}

type fieldRow struct {
	ID           catalogID `json:"id"`
	Name         string    `json:"name"`
	PricePerHour float64   `json:"price_per_hour"`
	Status       string    `json:"status"`
}

func (row fieldRow) toResource() *Resource {
	status := strings.ToLower(strings.TrimSpace(row.Status))
	return &Resource{
		ID:          string(row.ID),
		Name:        row.Name,
		HourlyRate:  row.PricePerHour,
		Maintenance: status == fieldStatusMaintenance || status == fieldStatusUnavailable,
	}
}

// GetResource reads a field from the Supabase catalog. Only the rate and the
// maintenance flag matter to bookings; availability lives in our own store.
func (su *SupabaseRepo) GetResource(ctx context.Context, id string) (*Resource, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrResourceNotFound
	}

	raw, status, err := execute(ctx, su.supabaseClient.From(FieldsTable).
		Select("id,name,price_per_hour,status", "", false).
		Eq("id", id).
		Execute)
	if err != nil {
		if status != 0 {
			return nil, fmt.Errorf("postgrest error: status=%d body=%s err=%v", status, string(raw), err)
		}
		return nil, fmt.Errorf("failed to get field by ID: %w", err)
	}

	var rows []fieldRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal field rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrResourceNotFound
	}
	return rows[0].toResource(), nil
}

// StaticCatalog serves resources from memory, loaded from a JSON file in development.
type StaticCatalog struct {
	mu        sync.RWMutex
	resources map[string]Resource
}

func NewStaticCatalog(resources ...Resource) *StaticCatalog {
	c := &StaticCatalog{resources: make(map[string]Resource)}
	for _, r := range resources {
		c.resources[r.ID] = r
	}
	return c
}

// LoadStaticCatalog reads a JSON array of resources.
func LoadStaticCatalog(path string) (*StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var resources []Resource
	if err := json.Unmarshal(data, &resources); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}
	for i := range resources {
		if err := Validate.Struct(resources[i]); err != nil {
			return nil, fmt.Errorf("invalid catalog entry %d: %w", i, err)
		}
	}
	return NewStaticCatalog(resources...), nil
}

func (c *StaticCatalog) GetResource(ctx context.Context, id string) (*Resource, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.resources[id]
	if !ok {
		return nil, ErrResourceNotFound
	}
	return &r, nil
}

func (c *StaticCatalog) Put(r Resource) {
	c.mu.Lock()
	c.resources[r.ID] = r
	c.mu.Unlock()
}
