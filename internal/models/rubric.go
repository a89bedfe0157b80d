package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RubricCategory is one scored dimension of a rubric.
type RubricCategory struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Points      int     `json:"points"`
}

// RubricCategories stores rubric categories as a JSONB array.
type RubricCategories []RubricCategory

// Value implements driver.Valuer.
func (c RubricCategories) Value() (driver.Value, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner.
func (c *RubricCategories) Scan(src interface{}) error {
	if src == nil {
		*c = nil
		return nil
	}
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unsupported type %T for RubricCategories", src)
	}
	if len(raw) == 0 {
		*c = nil
		return nil
	}
	return json.Unmarshal(raw, c)
}

// Rubric is a named set of scoring categories with point caps.
type Rubric struct {
	ID          string           `db:"id" json:"id"`
	WorkspaceID string           `db:"workspace_id" json:"workspace_id"`
	Name        string           `db:"name" json:"name"`
	Description *string          `db:"description" json:"description,omitempty"`
	MaxScore    int              `db:"max_score" json:"max_score"`
	Categories  RubricCategories `db:"categories" json:"categories"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

// CategoryPointsTotal sums the point caps of all categories.
func (r Rubric) CategoryPointsTotal() int {
	total := 0
	for _, cat := range r.Categories {
		total += cat.Points
	}
	return total
}

// Category returns the category with the given id, or nil.
func (r Rubric) Category(id string) *RubricCategory {
	for i := range r.Categories {
		if r.Categories[i].ID == id {
			return &r.Categories[i]
		}
	}
	return nil
}
