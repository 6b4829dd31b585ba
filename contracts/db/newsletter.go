package db

import "time"

// Newsletter 表示 newsletters 表，sender_email 唯一
type Newsletter struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SenderEmail  string    `json:"sender_email"`
	SenderDomain string    `json:"sender_domain"`
	Description  string    `json:"description"`
	Frequency    string    `json:"frequency"`
	IsPredefined bool      `json:"is_predefined"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}
