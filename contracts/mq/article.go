package mq

// ArticleCreatedPayload 文章入库后发布，由 enrichment consumer 消费
type ArticleCreatedPayload struct {
	ArticleID    string `json:"article_id"`
	UserID       string `json:"user_id"`
	NewsletterID string `json:"newsletter_id"`
	TraceID      string `json:"trace_id,omitempty"`
}

// ArticleEnrichedPayload 文章 AI 字段写回后发布
type ArticleEnrichedPayload struct {
	ArticleID          string   `json:"article_id"`
	UserID             string   `json:"user_id"`
	Category           string   `json:"category,omitempty"`
	InterestScore      *float64 `json:"interest_score,omitempty"`
	ThumbnailScheduled bool     `json:"thumbnail_scheduled"`
	TraceID            string   `json:"trace_id,omitempty"`
}
