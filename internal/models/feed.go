package models

import "time"

// FeedPost is a shared reflection surfaced on the cohort community feed.
type FeedPost struct {
	ID           string    `db:"id" json:"id"`
	CohortID     string    `db:"cohort_id" json:"cohort_id"`
	ReflectionID string    `db:"reflection_id" json:"reflection_id"`
	AuthorName   string    `db:"author_name" json:"author_name"`
	Excerpt      string    `db:"excerpt" json:"excerpt"`
	Pinned       bool      `db:"pinned" json:"pinned"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
