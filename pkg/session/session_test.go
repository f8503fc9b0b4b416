package session

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/site-analyzer/pkg/types"
)

func ptr[T any](v T) *T { return &v }

func det(label string, category types.Category) types.Detection {
	return types.Detection{Label: label, Category: category}
}

func safety(label string, sev types.Severity) types.Detection {
	return types.Detection{
		Label:    label,
		Category: types.CategorySafetyIssue,
		Safety:   &types.Safety{Severity: sev},
	}
}

func newTestSession(t *testing.T, n int) *Session {
	t.Helper()
	files := make([]FileInput, n)
	for i := range files {
		files[i] = FileInput{Path: "/photos/site_" + string(rune('a'+i)) + ".jpg"}
	}
	s, err := New(files)
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	s := newTestSession(t, 3)

	assert.True(t, strings.HasPrefix(s.ID, "session_"))
	require.Len(t, s.Images, 3)
	assert.Equal(t, "img_001", s.Images[0].ID)
	assert.Equal(t, "site_a.jpg", s.Images[0].FileName)
	assert.Equal(t, "img_003", s.Images[2].ID)
	for _, img := range s.Images {
		assert.Equal(t, types.StatusQueued, img.Status)
	}

	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNoImages)
}

func TestFinalizeExample(t *testing.T) {
	s := newTestSession(t, 2)
	s.Images[0].Status = types.StatusCompleted
	s.Images[0].Result = []types.Detection{
		det("ladder", types.CategoryObject),
		det("ladder", types.CategoryObject),
		det("bucket", types.CategoryObject),
		safety("missing guardrail", types.SeverityHigh),
	}
	s.Images[1].Status = types.StatusCompleted
	s.Images[1].Result = []types.Detection{
		det("bucket", types.CategoryObject),
		det("exit sign", types.CategoryFacilityAsset),
	}

	agg := NewAggregator(s)
	for _, img := range s.Images {
		agg.Update(*img)
	}
	got := agg.Finalize()

	assert.Equal(t, 6, got.TotalDetections)
	assert.Equal(t, []types.CategoryCount{
		{Category: types.CategoryObject, Count: 4},
		{Category: types.CategorySafetyIssue, Count: 1},
		{Category: types.CategoryFacilityAsset, Count: 1},
	}, got.CountsByCategory)
	assert.Equal(t, types.SeverityCounts{High: 1}, got.SafetyBySeverity)
	assert.Equal(t, 1, got.TotalSafetyIssues)
	assert.Equal(t, 2, got.CompletedImages)
	assert.Equal(t, 0, got.FailedImages)

	assert.Equal(t, []types.LabelCount{
		{Label: "ladder", Count: 2},
		{Label: "bucket", Count: 2},
		{Label: "missing guardrail", Count: 1},
		{Label: "exit sign", Count: 1},
	}, got.CountsByLabel)

	require.Len(t, got.PerImage, 2)
	assert.Equal(t, types.SeverityHigh, got.PerImage[0].MaxSeverity)
	assert.Equal(t, 1, got.PerImage[0].SafetyCount)
	assert.Equal(t, types.SeverityNone, got.PerImage[1].MaxSeverity)

	assertCountsConsistent(t, got)
}

func assertCountsConsistent(t *testing.T, agg types.SessionAggregates) {
	t.Helper()
	byCategory, byLabel := 0, 0
	for _, c := range agg.CountsByCategory {
		byCategory += c.Count
	}
	for _, c := range agg.CountsByLabel {
		byLabel += c.Count
	}
	assert.Equal(t, agg.TotalDetections, byCategory)
	assert.Equal(t, agg.TotalDetections, byLabel)
}

func TestFinalizeIdempotentAndOrderIndependent(t *testing.T) {
	s := newTestSession(t, 3)
	for i, img := range s.Images {
		img.Status = types.StatusCompleted
		img.Result = []types.Detection{det("pipe", types.CategoryObject), safety("edge", types.SeverityMedium)}
		if i == 1 {
			img.Result = append(img.Result, det("", ""))
		}
	}

	forward := NewAggregator(s)
	for _, img := range s.Images {
		forward.Update(*img)
	}
	backward := NewAggregator(s)
	for i := len(s.Images) - 1; i >= 0; i-- {
		backward.Update(*s.Images[i])
		backward.Update(*s.Images[i])
	}

	first := forward.Finalize()
	assert.Equal(t, first, forward.Finalize())
	assert.Equal(t, first, backward.Finalize())
	assert.Equal(t, first, Aggregate(s))

	assert.Equal(t, types.SeverityCounts{Medium: 3}, first.SafetyBySeverity)
	assert.Contains(t, first.CountsByLabel, types.LabelCount{Label: "unknown", Count: 1})
	assert.Contains(t, first.CountsByCategory, types.CategoryCount{Category: types.CategoryOther, Count: 1})
	assertCountsConsistent(t, first)
}

func TestFailedImagesContributeNothing(t *testing.T) {
	s := newTestSession(t, 2)
	s.Images[0].Status = types.StatusCompleted
	s.Images[0].Result = []types.Detection{det("pipe", types.CategoryObject)}
	s.Images[1].Status = types.StatusError
	s.Images[1].Err = errors.New("quota exceeded")
	s.Images[1].Result = []types.Detection{det("ghost", types.CategoryObject)}

	got := Aggregate(s)

	assert.Equal(t, 1, got.CompletedImages)
	assert.Equal(t, 1, got.FailedImages)
	assert.Equal(t, 1, got.TotalDetections)
	require.Len(t, got.PerImage, 2)
	assert.Equal(t, types.ImageSummary{
		ImageID:     "img_002",
		FileName:    "site_b.jpg",
		Status:      types.StatusError,
		MaxSeverity: types.SeverityNone,
		Error:       "quota exceeded",
	}, got.PerImage[1])
}

func TestFinalizeEmpty(t *testing.T) {
	got := NewAggregator(nil).Finalize()

	assert.Equal(t, 0, got.TotalDetections)
	assert.NotNil(t, got.CountsByCategory)
	assert.NotNil(t, got.PerImage)
	assert.Equal(t, types.SeverityCounts{}, got.SafetyBySeverity)
}

func TestSafetySeverityDefaults(t *testing.T) {
	s := newTestSession(t, 1)
	s.Images[0].Status = types.StatusCompleted
	s.Images[0].Result = []types.Detection{
		{Label: "no details", Category: types.CategorySafetyIssue},
		safety("odd", types.Severity("CRITICAL")),
		safety("medium", types.SeverityMedium),
	}

	got := Aggregate(s)

	assert.Equal(t, types.SeverityCounts{Medium: 1, Low: 2}, got.SafetyBySeverity)
	assert.Equal(t, types.SeverityMedium, got.PerImage[0].MaxSeverity)
}

func TestProgressRollup(t *testing.T) {
	s := newTestSession(t, 2)
	s.Images[0].Status = types.StatusCompleted
	s.Images[0].Result = []types.Detection{
		{Label: "drywall", Category: types.CategoryProgress, Progress: &types.Progress{Phase: "drywall", PercentComplete: ptr(0.7)}},
		{Label: "paint", Category: types.CategoryProgress, Progress: &types.Progress{Phase: "finishes", PercentComplete: ptr(130.0)}},
	}
	s.Images[1].Status = types.StatusCompleted
	s.Images[1].Insights = []types.Insight{
		{Name: "overall", Category: types.CategoryProgress, Metrics: []types.Metric{{Key: "percentComplete", Value: 40}}},
		{Name: "ignored", Category: types.CategoryObject, Metrics: []types.Metric{{Key: "percent", Value: 90}}},
	}

	got := Aggregate(s).ProgressSummary

	assert.Equal(t, 3, got.Entries)
	assert.InDelta(t, (70.0+100.0+40.0)/3, got.AveragePercent, 1e-9)
	require.Len(t, got.ByImage, 2)
	assert.InDelta(t, 85.0, got.ByImage[0].AveragePercent, 1e-9)
	assert.InDelta(t, 40.0, got.ByImage[1].AveragePercent, 1e-9)
	assert.Equal(t, []types.PhaseCount{{Phase: "drywall", Count: 1}, {Phase: "finishes", Count: 1}}, got.PhaseCounts)
}

func TestNormalizePercent(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.5, 50},
		{1, 100},
		{-0.2, 0},
		{55, 55},
		{250, 100},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, NormalizePercent(tt.in), 1e-9, "input %v", tt.in)
	}
}

func TestAggregatorConcurrentUpdates(t *testing.T) {
	s := newTestSession(t, 20)
	agg := NewAggregator(s)

	var wg sync.WaitGroup
	for _, img := range s.Images {
		img.Status = types.StatusCompleted
		img.Result = []types.Detection{det("pipe", types.CategoryObject)}
		wg.Add(1)
		go func(task types.ImageTask) {
			defer wg.Done()
			agg.OnStatus(task, task.Status)
		}(*img)
	}
	wg.Wait()

	got := agg.Finalize()
	assert.Equal(t, 20, got.TotalDetections)
	assert.Equal(t, 20, got.CompletedImages)
	assert.Equal(t, "img_001", got.PerImage[0].ImageID)
}

func TestProgressAndStatus(t *testing.T) {
	s := newTestSession(t, 4)
	assert.Equal(t, StatusAnalyzing, GetStatus(s))

	s.Images[0].Status = types.StatusCompleted
	s.Images[1].Status = types.StatusError
	s.Images[2].Status = types.StatusAnalyzing

	p := GetProgress(s)
	assert.Equal(t, Progress{Total: 4, Queued: 1, Analyzing: 1, Completed: 1, Error: 1, Done: 2, Percentage: 50}, p)

	s.Images[2].Status = types.StatusCompleted
	s.Images[3].Status = types.StatusCompleted
	assert.Equal(t, StatusPartialFailure, GetStatus(s))

	s.Images[1].Status = types.StatusCompleted
	assert.Equal(t, StatusCompleted, GetStatus(s))

	for _, img := range s.Images {
		img.Status = types.StatusError
	}
	assert.Equal(t, StatusError, GetStatus(s))
	assert.Len(t, s.Failed(), 4)

	Requeue(s.Failed())
	assert.Equal(t, types.StatusQueued, s.Images[0].Status)
	assert.Empty(t, s.Failed())
}
