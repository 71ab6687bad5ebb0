package risk

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/sweepguard/sweepguard/internal/utils"
	"github.com/sweepguard/sweepguard/pkg/ai"
)

// CacheTTL is how long an AI verdict stays reusable.
const CacheTTL = 7 * 24 * time.Hour

// CachedVerdict is an AI verdict stored for reuse. Whitelist and rule
// verdicts are never cached; they are cheap to recompute.
type CachedVerdict struct {
	Level      Level
	Score      int
	Confidence float64
	Reason     string
	CachedAt   time.Time
}

// CacheStore persists AI verdicts keyed by CacheKey.
type CacheStore interface {
	GetVerdict(ctx context.Context, key string) (*CachedVerdict, bool, error)
	PutVerdict(ctx context.Context, key string, v CachedVerdict) error
}

// CostGate guards AI spending. Implemented by the cost controller.
type CostGate interface {
	CanMakeCall(estimatedCost float64) (bool, string)
	RecordCall(inputTokens, outputTokens int, actualCost *float64)
}

// VerdictClient is the AI boundary. Implemented by ai.Client.
type VerdictClient interface {
	Classify(ctx context.Context, prompt string) (*ai.Verdict, error)
}

// ClassifierConfig wires the classifier's collaborators. Client may be
// nil, which disables the AI tier entirely.
type ClassifierConfig struct {
	Whitelist *Whitelist
	Rules     *Engine
	Cache     CacheStore
	Gate      CostGate
	Client    VerdictClient

	CacheTTL          time.Duration
	EstimatedCallCost float64
	Now               func() time.Time
}

// Classifier runs the three-tier pipeline: whitelist, rule engine, AI.
// The first definitive answer wins, and only rule-suspicious items ever
// reach the AI tier.
type Classifier struct {
	whitelist *Whitelist
	rules     *Engine
	cache     CacheStore
	gate      CostGate
	client    VerdictClient

	cacheTTL time.Duration
	estCost  float64
	now      func() time.Time
}

func NewClassifier(cfg ClassifierConfig) *Classifier {
	c := &Classifier{
		whitelist: cfg.Whitelist,
		rules:     cfg.Rules,
		cache:     cfg.Cache,
		gate:      cfg.Gate,
		client:    cfg.Client,
		cacheTTL:  cfg.CacheTTL,
		estCost:   cfg.EstimatedCallCost,
		now:       cfg.Now,
	}
	if c.whitelist == nil {
		c.whitelist = NewWhitelist()
	}
	if c.rules == nil {
		c.rules = NewEngine()
	}
	if c.cacheTTL <= 0 {
		c.cacheTTL = CacheTTL
	}
	if c.estCost <= 0 {
		c.estCost = 0.01
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// CacheKey derives the stable cache key for an item from its path, name
// and size.
func CacheKey(item ScanItem) string {
	sum := md5.Sum([]byte(item.Path + item.DisplayName() + strconv.FormatInt(item.SizeBytes, 10)))
	return hex.EncodeToString(sum[:])
}

// Classify assigns a risk tier to one item. It never returns an error:
// every failure in the AI tier degrades to the rule verdict.
func (c *Classifier) Classify(ctx context.Context, item ScanItem) Classification {
	now := c.now()

	if c.whitelist.Contains(item.Path) {
		return Classification{
			Level:          LevelSafe,
			Score:          0,
			Confidence:     1.0,
			Reason:         "protected by whitelist",
			Recommendation: RecommendKeep,
			Method:         MethodWhitelist,
			Source:         "whitelist",
			Tags:           []string{"whitelisted", "protected"},
			ClassifiedAt:   now,
		}
	}

	match := c.rules.Evaluate(item)
	ruleResult := c.ruleClassification(match, now)

	// Safe and dangerous rule verdicts are definitive.
	if match.Level != LevelSuspicious || c.client == nil {
		return ruleResult
	}

	key := CacheKey(item)
	if c.cache != nil {
		if cached, ok, err := c.cache.GetVerdict(ctx, key); err != nil {
			utils.Log.Warnf("verdict cache lookup failed for %s: %v", item.Path, err)
		} else if ok && now.Sub(cached.CachedAt) <= c.cacheTTL {
			return Classification{
				Level:          cached.Level,
				Score:          cached.Score,
				Confidence:     cached.Confidence,
				Reason:         cached.Reason,
				Recommendation: RecommendationForLevel(cached.Level),
				Method:         MethodAI,
				Source:         fmt.Sprintf("ai(%s)", cached.Level),
				Tags:           []string{"ai", "cached"},
				CachedHit:      true,
				ClassifiedAt:   now,
			}
		}
	}

	if c.gate != nil {
		if ok, reason := c.gate.CanMakeCall(c.estCost); !ok {
			out := ruleResult
			out.Source = "rule engine (AI call skipped: " + reason + ")"
			out.Tags = append(out.Tags, "ai-skipped")
			return out
		}
	}

	aiVerdict, err := c.client.Classify(ctx, BuildPrompt(item))
	if err != nil {
		utils.Log.Warnf("ai classification failed for %s: %v", item.Path, err)
		out := ruleResult
		out.Source = "rule engine (AI call failed)"
		out.Tags = append(out.Tags, "ai-failed")
		return out
	}
	if c.gate != nil {
		c.gate.RecordCall(aiVerdict.InputTokens, aiVerdict.OutputTokens, nil)
	}

	verdict := normalizeVerdict(aiVerdict)
	verdict = Reconcile(match.Level, verdict)

	out := Classification{
		Level:          verdict.Level,
		Score:          verdict.Score,
		Confidence:     verdict.Confidence,
		Reason:         verdict.Reason,
		Recommendation: RecommendationForLevel(verdict.Level),
		Method:         MethodAI,
		Source:         fmt.Sprintf("ai(%s)", verdict.Level),
		Tags:           verdictTags(verdict.Confidence),
		ClassifiedAt:   now,
	}

	if c.cache != nil {
		cached := CachedVerdict{
			Level:      verdict.Level,
			Score:      verdict.Score,
			Confidence: verdict.Confidence,
			Reason:     verdict.Reason,
			CachedAt:   now,
		}
		if err := c.cache.PutVerdict(ctx, key, cached); err != nil {
			utils.Log.Warnf("verdict cache store failed for %s: %v", item.Path, err)
		}
	}

	return out
}

func (c *Classifier) ruleClassification(match Match, now time.Time) Classification {
	source := "rule engine"
	if match.RuleName != "" {
		source = "rule:" + match.RuleName
	}

	out := Classification{
		Level:        match.Level,
		Method:       MethodRule,
		Source:       source,
		Tags:         []string{"rule"},
		ClassifiedAt: now,
	}
	switch match.Level {
	case LevelSafe:
		out.Score = 20
		out.Confidence = 0.85
		out.Reason = "matched a safe cleanup rule"
		out.Recommendation = RecommendClean
	case LevelDangerous:
		out.Score = 85
		out.Confidence = 0.75
		out.Reason = "matched a protected resource rule"
		out.Recommendation = RecommendKeep
	default:
		out.Score = 50
		out.Confidence = 0.5
		out.Reason = "no definitive rule matched"
		out.Recommendation = RecommendConfirm
	}
	return out
}

// Verdict is the reconciliation input and output shape.
type Verdict struct {
	Level      Level
	Score      int
	Confidence float64
	Reason     string
}

// Reconcile blends the rule hint into an AI verdict. A dangerous hint
// floors the score at 70. A safe hint caps the score at 40 and
// downgrades an AI dangerous call to suspicious with confidence 0.6.
func Reconcile(hint Level, v Verdict) Verdict {
	switch hint {
	case LevelDangerous:
		if v.Score < 70 {
			v.Score = 70
		}
	case LevelSafe:
		if v.Score > 40 {
			v.Score = 40
		}
		if v.Level == LevelDangerous {
			v.Level = LevelSuspicious
			v.Confidence = 0.6
		}
	}
	return v
}

func normalizeVerdict(v *ai.Verdict) Verdict {
	level, ok := LevelFromString(v.Level)
	if !ok {
		level = LevelSuspicious
	}
	score := 50
	switch level {
	case LevelSafe:
		score = 20
	case LevelDangerous:
		score = 80
	}
	return Verdict{
		Level:      level,
		Score:      score,
		Confidence: v.Confidence,
		Reason:     v.Reason,
	}
}

func verdictTags(confidence float64) []string {
	tags := []string{"ai"}
	switch {
	case confidence > 0.8:
		tags = append(tags, "high-confidence")
	case confidence > 0.5:
		tags = append(tags, "medium-confidence")
	}
	return tags
}
