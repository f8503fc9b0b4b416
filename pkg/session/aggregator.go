package session

import (
	"math"
	"sort"
	"sync"

	"github.com/menta2k/site-analyzer/pkg/types"
)

// defaultLabel is counted for detections the model left unlabeled
const defaultLabel = "unknown"

// Aggregator collects terminal task snapshots from concurrent workers.
// Finalize folds them in session order, so the result does not depend on
// the order in which tasks completed.
type Aggregator struct {
	mu    sync.Mutex
	order []string
	tasks map[string]types.ImageTask
}

// NewAggregator creates an aggregator that knows every image of s up front,
// so that images still in flight count towards TotalImages.
func NewAggregator(s *Session) *Aggregator {
	a := &Aggregator{tasks: make(map[string]types.ImageTask)}
	if s != nil {
		for _, img := range s.Images {
			a.order = append(a.order, img.ID)
			a.tasks[img.ID] = types.ImageTask{ID: img.ID, FileName: img.FileName, Status: img.Status}
		}
	}
	return a
}

// Update records the task's current state. Repeating an update is a no-op.
func (a *Aggregator) Update(task types.ImageTask) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, known := a.tasks[task.ID]; !known {
		a.order = append(a.order, task.ID)
	}
	a.tasks[task.ID] = task
}

// OnStatus lets the aggregator observe a dispatcher directly
func (a *Aggregator) OnStatus(task types.ImageTask, status types.Status) {
	if status.Terminal() {
		a.Update(task)
	}
}

// Finalize computes the aggregates from everything recorded so far. It never
// mutates task state and returns identical output for identical inputs.
func (a *Aggregator) Finalize() types.SessionAggregates {
	a.mu.Lock()
	tasks := make([]types.ImageTask, 0, len(a.order))
	for _, id := range a.order {
		tasks = append(tasks, a.tasks[id])
	}
	a.mu.Unlock()

	return Compute(tasks)
}

// Aggregate computes the aggregates of a session directly
func Aggregate(s *Session) types.SessionAggregates {
	tasks := make([]types.ImageTask, len(s.Images))
	for i, img := range s.Images {
		tasks[i] = *img
	}
	return Compute(tasks)
}

// counter keeps first-seen order for stable tie breaking
type counter struct {
	keys   []string
	counts map[string]int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(key string) {
	if _, ok := c.counts[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.counts[key]++
}

// sorted returns keys by count descending, ties in first-seen order
func (c *counter) sorted() []string {
	keys := append([]string(nil), c.keys...)
	sort.SliceStable(keys, func(i, j int) bool {
		return c.counts[keys[i]] > c.counts[keys[j]]
	})
	return keys
}

// Compute folds tasks, in the given order, into session aggregates.
// Only completed tasks contribute detections; failed tasks are listed with
// zero counts so partial failures stay visible.
func Compute(tasks []types.ImageTask) types.SessionAggregates {
	agg := types.SessionAggregates{
		TotalImages:      len(tasks),
		CountsByCategory: []types.CategoryCount{},
		CountsByLabel:    []types.LabelCount{},
		PerImage:         []types.ImageSummary{},
		ProgressSummary: types.ProgressSummary{
			ByImage:     []types.ImageProgress{},
			PhaseCounts: []types.PhaseCount{},
		},
	}

	categories := newCounter()
	labels := newCounter()
	phases := newCounter()
	var progressSum float64

	for _, task := range tasks {
		switch task.Status {
		case types.StatusCompleted:
			agg.CompletedImages++
		case types.StatusError:
			agg.FailedImages++
			agg.PerImage = append(agg.PerImage, types.ImageSummary{
				ImageID:     task.ID,
				FileName:    task.FileName,
				Status:      task.Status,
				MaxSeverity: types.SeverityNone,
				Error:       task.ErrorMessage(),
			})
			continue
		default:
			continue
		}

		summary := types.ImageSummary{
			ImageID:        task.ID,
			FileName:       task.FileName,
			Status:         task.Status,
			DetectionCount: len(task.Result),
			MaxSeverity:    types.SeverityNone,
		}
		var imgProgressSum float64
		imgProgressEntries := 0

		for _, det := range task.Result {
			category := det.Category
			if category == "" {
				category = types.CategoryOther
			}
			label := det.Label
			if label == "" {
				label = defaultLabel
			}
			categories.add(string(category))
			labels.add(label)

			switch category {
			case types.CategorySafetyIssue:
				sev := severityOf(det)
				agg.TotalSafetyIssues++
				agg.SafetyBySeverity.Add(sev)
				summary.SafetyCount++
				summary.SafetyBySeverity.Add(sev)
				if sev.Rank() > summary.MaxSeverity.Rank() {
					summary.MaxSeverity = sev
				}
			case types.CategoryProgress:
				if det.Progress == nil {
					break
				}
				if det.Progress.Phase != "" {
					phases.add(det.Progress.Phase)
				}
				if det.Progress.PercentComplete != nil {
					pct := NormalizePercent(*det.Progress.PercentComplete)
					imgProgressSum += pct
					imgProgressEntries++
				}
			}
		}

		for _, in := range task.Insights {
			if in.Category != types.CategoryProgress {
				continue
			}
			if v, ok := in.PercentMetric(); ok {
				imgProgressSum += NormalizePercent(v)
				imgProgressEntries++
			}
		}

		agg.TotalDetections += summary.DetectionCount
		agg.PerImage = append(agg.PerImage, summary)

		if imgProgressEntries > 0 {
			progressSum += imgProgressSum
			agg.ProgressSummary.Entries += imgProgressEntries
			agg.ProgressSummary.ByImage = append(agg.ProgressSummary.ByImage, types.ImageProgress{
				ImageID:        task.ID,
				AveragePercent: imgProgressSum / float64(imgProgressEntries),
				Entries:        imgProgressEntries,
			})
		}
	}

	for _, k := range categories.sorted() {
		agg.CountsByCategory = append(agg.CountsByCategory, types.CategoryCount{Category: types.Category(k), Count: categories.counts[k]})
	}
	for _, k := range labels.sorted() {
		agg.CountsByLabel = append(agg.CountsByLabel, types.LabelCount{Label: k, Count: labels.counts[k]})
	}
	for _, k := range phases.sorted() {
		agg.ProgressSummary.PhaseCounts = append(agg.ProgressSummary.PhaseCounts, types.PhaseCount{Phase: k, Count: phases.counts[k]})
	}
	if agg.ProgressSummary.Entries > 0 {
		agg.ProgressSummary.AveragePercent = progressSum / float64(agg.ProgressSummary.Entries)
	}

	return agg
}

func severityOf(det types.Detection) types.Severity {
	if det.Safety == nil {
		return types.SeverityLow
	}
	return types.ParseSeverity(string(det.Safety.Severity))
}

// NormalizePercent maps a progress value into [0,100]. Values up to 1 are
// read as fractions.
func NormalizePercent(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v <= 1 {
		v *= 100
	}
	return math.Max(0, math.Min(100, v))
}
