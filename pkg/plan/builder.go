package plan

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweepguard/sweepguard/internal/utils"
	"github.com/sweepguard/sweepguard/pkg/risk"
	"github.com/sweepguard/sweepguard/pkg/storage"
)

// Item pairs a scan candidate with its classification.
type Item struct {
	risk.ScanItem
	Classification risk.Classification
}

// Plan is the in-memory result of classifying one scan batch. Once
// built it is frozen; execution works from a selection of its items.
type Plan struct {
	ID         string
	Name       string
	ScanType   string
	ScanTarget string
	CreatedAt  time.Time
	AnalyzedAt time.Time

	Items []Item

	SafeCount       int
	SuspiciousCount int
	DangerousCount  int

	TotalSize          int64
	EstimatedFreedSize int64

	AICallCount   int
	UsedRulesOnly bool
	Cancelled     bool
}

const defaultConcurrency = 8

// Builder classifies scan batches into cleanup plans.
type Builder struct {
	classifier  *risk.Classifier
	concurrency int
	now         func() time.Time
}

func NewBuilder(classifier *risk.Classifier, concurrency int) *Builder {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Builder{
		classifier:  classifier,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Build classifies items concurrently and assembles a plan. Duplicate
// paths are dropped (first occurrence wins) and the final item order
// matches the input order regardless of which worker finished first.
//
// Cancellation is cooperative: classifications already running finish,
// unstarted items get a suspicious placeholder verdict, and the plan
// comes back frozen with Cancelled set.
func (b *Builder) Build(ctx context.Context, name, scanType, scanTarget string, items []risk.ScanItem, progress func(done, total int)) *Plan {
	p := &Plan{
		ID:         uuid.NewString(),
		Name:       name,
		ScanType:   scanType,
		ScanTarget: scanTarget,
		CreatedAt:  b.now(),
	}

	deduped := dedupe(items)
	if len(deduped) < len(items) {
		utils.Log.Debugf("plan %s: dropped %d duplicate paths", p.ID, len(items)-len(deduped))
	}
	if len(deduped) == 0 {
		p.AnalyzedAt = b.now()
		p.UsedRulesOnly = true
		return p
	}

	results := make([]risk.Classification, len(deduped))
	classified := make([]bool, len(deduped))

	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	done := 0

	for i := range deduped {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}
			results[idx] = b.classifier.Classify(ctx, deduped[idx])
			classified[idx] = true

			mu.Lock()
			done++
			current := done
			mu.Unlock()
			if progress != nil {
				progress(current, len(deduped))
			}
		}(i)
	}
	wg.Wait()

	p.Cancelled = ctx.Err() != nil
	now := b.now()

	p.Items = make([]Item, len(deduped))
	for i, scan := range deduped {
		cls := results[i]
		if !classified[i] {
			cls = risk.Classification{
				Level:          risk.LevelSuspicious,
				Score:          50,
				Confidence:     0.5,
				Reason:         "classification did not run",
				Recommendation: risk.RecommendConfirm,
				Method:         risk.MethodRule,
				Source:         "unclassified (cancelled)",
				Tags:           []string{"unclassified"},
				ClassifiedAt:   now,
			}
		}
		p.Items[i] = Item{ScanItem: scan, Classification: cls}

		p.TotalSize += scan.SizeBytes
		switch cls.Level {
		case risk.LevelSafe:
			p.SafeCount++
			p.EstimatedFreedSize += scan.SizeBytes
		case risk.LevelDangerous:
			p.DangerousCount++
		default:
			p.SuspiciousCount++
		}
		if cls.Method == risk.MethodAI && !cls.CachedHit {
			p.AICallCount++
		}
	}

	p.UsedRulesOnly = p.AICallCount == 0
	p.AnalyzedAt = now
	return p
}

func dedupe(items []risk.ScanItem) []risk.ScanItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]risk.ScanItem, 0, len(items))
	for _, it := range items {
		key := it.Path
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	return out
}

// ToStorage converts a built plan into its persistence shape.
func (p *Plan) ToStorage() (*storage.Plan, []storage.Item) {
	status := storage.PlanStatusReady
	if p.Cancelled {
		status = storage.PlanStatusDraft
	}
	sp := &storage.Plan{
		ID:                 p.ID,
		Name:               p.Name,
		ScanType:           p.ScanType,
		ScanTarget:         p.ScanTarget,
		Status:             status,
		TotalItems:         len(p.Items),
		SafeItems:          p.SafeCount,
		SuspiciousItems:    p.SuspiciousCount,
		DangerousItems:     p.DangerousCount,
		TotalSize:          p.TotalSize,
		EstimatedFreedSize: p.EstimatedFreedSize,
		AICallCount:        p.AICallCount,
		UsedRulesOnly:      p.UsedRulesOnly,
		CreatedAt:          p.CreatedAt,
		AnalyzedAt:         p.AnalyzedAt,
	}

	items := make([]storage.Item, len(p.Items))
	for i, it := range p.Items {
		items[i] = storage.Item{
			PlanID:         p.ID,
			Path:           it.Path,
			Name:           it.DisplayName(),
			SizeBytes:      it.SizeBytes,
			IsDir:          it.IsDir,
			RiskLevel:      string(it.Classification.Level),
			RiskScore:      it.Classification.Score,
			Confidence:     it.Classification.Confidence,
			Method:         string(it.Classification.Method),
			Source:         it.Classification.Source,
			Recommendation: string(it.Classification.Recommendation),
			Reason:         it.Classification.Reason,
			Status:         storage.ItemStatusPending,
		}
	}
	return sp, items
}
