package models

type Topic string

const LinkTopic Topic = "tglink.link"

// LinkEvent is published once per submit with the outcome it reached.
type LinkEvent struct {
	Email          string `json:"email"`
	TelegramUserID string `json:"telegram_user_id"`
	Phase          Phase  `json:"phase"`
	DurationMS     int64  `json:"duration_ms"`
}
