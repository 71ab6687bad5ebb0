package risk

import (
	"path/filepath"
	"strings"
	"time"
)

// Level is the risk tier assigned to a cleanup candidate.
type Level string

const (
	LevelSafe       Level = "safe"
	LevelSuspicious Level = "suspicious"
	LevelDangerous  Level = "dangerous"
)

// LevelFromString normalizes a free-form level string into a Level.
func LevelFromString(s string) (Level, bool) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "safe", "low":
		return LevelSafe, true
	case "suspicious", "medium", "unknown":
		return LevelSuspicious, true
	case "dangerous", "high":
		return LevelDangerous, true
	}
	return "", false
}

// Method records which tier produced a classification.
type Method string

const (
	MethodWhitelist Method = "whitelist"
	MethodRule      Method = "rule"
	MethodAI        Method = "ai"
)

// Recommendation is the action suggested to the user for an item.
type Recommendation string

const (
	RecommendKeep    Recommendation = "keep"
	RecommendClean   Recommendation = "can_clean"
	RecommendConfirm Recommendation = "needs_confirmation"
)

// RecommendationForLevel maps a risk tier to its default recommendation.
func RecommendationForLevel(level Level) Recommendation {
	switch level {
	case LevelSafe:
		return RecommendClean
	case LevelDangerous:
		return RecommendKeep
	default:
		return RecommendConfirm
	}
}

// ScanItem is a cleanup candidate handed to the classifier. Items arrive
// from an external scanner; this package never walks the filesystem.
type ScanItem struct {
	Path       string
	Name       string
	SizeBytes  int64
	IsDir      bool
	ScanSource string // system | appdata | custom

	// LastAccessed is optional; the zero value means unknown, and
	// age-based rules are skipped for such items.
	LastAccessed time.Time
}

// DisplayName returns the item name, falling back to the path base.
func (it ScanItem) DisplayName() string {
	if it.Name != "" {
		return it.Name
	}
	return filepath.Base(it.Path)
}

// Classification is the outcome of the three-tier pipeline for one item.
type Classification struct {
	Level          Level
	Score          int // 0-100
	Confidence     float64
	Reason         string
	Recommendation Recommendation
	Method         Method
	Source         string
	Tags           []string
	CachedHit      bool
	ClassifiedAt   time.Time
}
