package db

import "time"

// Article 表示 articles 表，(user_id, newsletter_id, title) 唯一。
// AI 字段在 enrichment 完成前为 nil。
type Article struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	NewsletterID  string    `json:"newsletter_id"`
	SourceEmailID string    `json:"source_email_id,omitempty"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	Excerpt       string    `json:"excerpt"`
	URL           string    `json:"url"`
	PublishedAt   time.Time `json:"published_at"`
	ProcessedAt   time.Time `json:"processed_at"`

	AISummary            *string    `json:"ai_summary"`
	AIGeneratedTitle     *string    `json:"ai_generated_title"`
	AIInterestScore      *float64   `json:"ai_interest_score"`
	AICategory           *string    `json:"ai_category"`
	AITags               []string   `json:"ai_tags"`
	AIGeneratedThumbnail *string    `json:"ai_generated_thumbnail"`
	IsSpam               bool       `json:"is_spam"`
	EnrichedAt           *time.Time `json:"enriched_at"`

	IsRead  bool `json:"is_read"`
	IsSaved bool `json:"is_saved"`
}

// ArticleEnrichment 是 enrichment 写回的字段集合
type ArticleEnrichment struct {
	Summary        *string
	GeneratedTitle *string
	InterestScore  *float64
	Category       *string
	Tags           []string
	IsSpam         bool
}
