package cache

import (
	"strconv"
	"time"
)

const (
	ListingTTL        = 600 * time.Second
	EntityTTL         = 3600 * time.Second
	RecommendationTTL = 1800 * time.Second
	// TombstoneTTL 回填失败后占位的时长，期间读路径不能回填
	TombstoneTTL = 60 * time.Second
)

const (
	PrefixListing         = "listing:"
	PrefixMovie           = "movie:"
	PrefixSimilar         = "similar:"
	PrefixRecommendations = "recommendations:"
)

// RecommendationsKey recommendations:{user_id}
func RecommendationsKey(userID int) string {
	return PrefixRecommendations + strconv.Itoa(userID)
}

// MovieKey movie:{id}
func MovieKey(id int) string {
	return PrefixMovie + strconv.Itoa(id)
}

// SimilarKey similar:{id}
func SimilarKey(id int) string {
	return PrefixSimilar + strconv.Itoa(id)
}
