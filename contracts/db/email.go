package db

import "time"

// RawEmail 表示 raw_emails 表的完整结构
type RawEmail struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	MessageID   string     `json:"message_id"`
	ThreadID    string     `json:"thread_id,omitempty"`
	Provider    string     `json:"provider"`
	Sender      string     `json:"sender"`
	Recipient   string     `json:"recipient"`
	Subject     string     `json:"subject"`
	Snippet     string     `json:"snippet"`
	TextBody    string     `json:"text_body"`
	HTMLBody    string     `json:"html_body"`
	RawContent  string     `json:"-"`
	ReceivedAt  time.Time  `json:"received_at"`
	Processed   bool       `json:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// User 只包含流水线需要的字段，用户管理在别处
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	SystemEmail string `json:"system_email"`
}

// Summary lengths accepted by the summarizer.
const (
	SummaryShort  = "short"
	SummaryMedium = "medium"
	SummaryLong   = "long"
)

// UserPreferences 表示 user_preferences 表
type UserPreferences struct {
	UserID            string   `json:"user_id"`
	InterestKeywords  []string `json:"interest_keywords"`
	SummaryLength     string   `json:"summary_length"`
	ThumbnailsEnabled bool     `json:"thumbnails_enabled"`
}

// DefaultPreferences is used when a user never saved any.
func DefaultPreferences(userID string) *UserPreferences {
	return &UserPreferences{
		UserID:            userID,
		SummaryLength:     SummaryMedium,
		ThumbnailsEnabled: true,
	}
}
