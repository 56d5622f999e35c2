package model

import "time"

// Prompt is a shared prompt published by a user.
type Prompt struct {
	ID        string    `json:"id" db:"id"`
	AuthorID  string    `json:"author_id" db:"author_id"`
	Title     string    `json:"title" db:"title"`
	Body      string    `json:"body" db:"body"`
	Tags      string    `json:"tags" db:"tags"` // comma-separated
	Votes     int64     `json:"votes" db:"votes"`
	Copies    int64     `json:"copies" db:"copies"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Vote records a single user's vote on a prompt. One vote per user per prompt.
type Vote struct {
	ID        string    `json:"id" db:"id"`
	PromptID  string    `json:"prompt_id" db:"prompt_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Value     int       `json:"value" db:"value"` // +1 or -1
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
