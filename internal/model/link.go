package model

import "time"

type Link struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	OriginalURL string    `json:"original_url"`
	Code        string    `json:"code"`
	Clicks      int64     `json:"clicks"`
	Archived    bool      `json:"archived"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
