package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultCategoryColor is used when a category is created without a color.
const DefaultCategoryColor = "#3B82F6"

// Category groups polls; it has no effect on voting.
type Category struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Color       string    `json:"color"`
	CreatedAt   time.Time `json:"created_at"`
}

// CategoryWithCount adds the number of polls tagged with the category.
type CategoryWithCount struct {
	Category
	PollCount int `json:"poll_count"`
}
