package model

import "time"

// Preference is one user setting, e.g. a watchlist or a default exchange.
type Preference struct {
	UserID    string    `gorm:"primaryKey;size:64" json:"userId"`
	Key       string    `gorm:"primaryKey;size:128" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Preference) TableName() string {
	return "user_preferences"
}

// PreferenceKey is the cache key of one preference.
func PreferenceKey(userID, key string) string {
	return userID + "/" + key
}
