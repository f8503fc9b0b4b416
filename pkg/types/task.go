package types

// Status is the lifecycle state of an ImageTask
type Status string

const (
	StatusQueued    Status = "queued"
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether no further transitions can happen
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ImageTask is one image of a session. It is owned by exactly one worker while analyzing.
type ImageTask struct {
	ID       string      `json:"imageId" yaml:"imageId"`
	FileRef  string      `json:"fileRef" yaml:"fileRef"`
	FileName string      `json:"fileName" yaml:"fileName"`
	Width    int         `json:"width,omitempty" yaml:"width,omitempty"`
	Height   int         `json:"height,omitempty" yaml:"height,omitempty"`
	Status   Status      `json:"status" yaml:"status"`
	Result   []Detection `json:"detections" yaml:"detections"`
	Insights []Insight   `json:"globalInsights,omitempty" yaml:"globalInsights,omitempty"`
	RawText  string      `json:"-" yaml:"-"`
	Err      error       `json:"-" yaml:"-"`
}

// ErrorMessage returns the task error text or an empty string
func (t *ImageTask) ErrorMessage() string {
	if t.Err == nil {
		return ""
	}
	return t.Err.Error()
}

// SeverityCounts is the low/medium/high triplet exported to reports
type SeverityCounts struct {
	High   int `json:"high" yaml:"high"`
	Medium int `json:"medium" yaml:"medium"`
	Low    int `json:"low" yaml:"low"`
}

// Add increments the bucket for s. Severity none is ignored.
func (c *SeverityCounts) Add(s Severity) {
	switch s {
	case SeverityHigh:
		c.High++
	case SeverityMedium:
		c.Medium++
	case SeverityLow:
		c.Low++
	}
}

// CategoryCount is one row of the category histogram
type CategoryCount struct {
	Category Category `json:"category" yaml:"category"`
	Count    int      `json:"count" yaml:"count"`
}

// LabelCount is one row of the label histogram
type LabelCount struct {
	Label string `json:"label" yaml:"label"`
	Count int    `json:"count" yaml:"count"`
}

// ImageSummary is the per-image rollup
type ImageSummary struct {
	ImageID          string         `json:"imageId" yaml:"imageId"`
	FileName         string         `json:"fileName" yaml:"fileName"`
	Status           Status         `json:"status" yaml:"status"`
	DetectionCount   int            `json:"detectionCount" yaml:"detectionCount"`
	SafetyCount      int            `json:"safetyCount" yaml:"safetyCount"`
	SafetyBySeverity SeverityCounts `json:"safetyBySeverity" yaml:"safetyBySeverity"`
	MaxSeverity      Severity       `json:"maxSeverity" yaml:"maxSeverity"`
	Error            string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// ImageProgress is the average progress percentage of one image
type ImageProgress struct {
	ImageID        string  `json:"imageId" yaml:"imageId"`
	AveragePercent float64 `json:"averagePercent" yaml:"averagePercent"`
	Entries        int     `json:"entries" yaml:"entries"`
}

// PhaseCount counts progress entries per construction phase
type PhaseCount struct {
	Phase string `json:"phase" yaml:"phase"`
	Count int    `json:"count" yaml:"count"`
}

// ProgressSummary is the session-level progress rollup
type ProgressSummary struct {
	AveragePercent float64         `json:"averagePercent" yaml:"averagePercent"`
	Entries        int             `json:"entries" yaml:"entries"`
	ByImage        []ImageProgress `json:"byImage" yaml:"byImage"`
	PhaseCounts    []PhaseCount    `json:"phaseCounts" yaml:"phaseCounts"`
}

// SessionAggregates is the contract consumed by report and export collaborators
type SessionAggregates struct {
	TotalImages       int             `json:"totalImages" yaml:"totalImages"`
	CompletedImages   int             `json:"completedImages" yaml:"completedImages"`
	FailedImages      int             `json:"failedImages" yaml:"failedImages"`
	TotalDetections   int             `json:"totalDetections" yaml:"totalDetections"`
	TotalSafetyIssues int             `json:"totalSafetyIssues" yaml:"totalSafetyIssues"`
	SafetyBySeverity  SeverityCounts  `json:"safetyBySeverity" yaml:"safetyBySeverity"`
	CountsByCategory  []CategoryCount `json:"countsByCategory" yaml:"countsByCategory"`
	CountsByLabel     []LabelCount    `json:"countsByLabel" yaml:"countsByLabel"`
	PerImage          []ImageSummary  `json:"perImage" yaml:"perImage"`
	ProgressSummary   ProgressSummary `json:"progressSummary" yaml:"progressSummary"`
}
