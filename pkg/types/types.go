package types

import "strings"

// Box represents a canonical bounding box in pixel/display space
type Box struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Point is a single canonical vertex
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Category classifies a detection
type Category string

const (
	CategoryObject        Category = "object"
	CategoryFacilityAsset Category = "facility_asset"
	CategorySafetyIssue   Category = "safety_issue"
	CategoryProgress      Category = "progress"
	CategoryOther         Category = "other"
)

// ParseCategory maps free-form model output onto a known category, defaulting to other
func ParseCategory(s string) Category {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryObject, CategoryFacilityAsset, CategorySafetyIssue, CategoryProgress:
		return c
	default:
		return CategoryOther
	}
}

// Severity ranks a safety finding
type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank returns the ordinal used to pick the worst finding: high(3) > medium(2) > low(1) > none(0)
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity normalizes a severity string. Unknown or empty values map to low,
// since a safety issue without a stated severity is still a finding.
func ParseSeverity(s string) Severity {
	switch v := Severity(strings.ToLower(strings.TrimSpace(s))); v {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return v
	default:
		return SeverityLow
	}
}

// Safety carries safety_issue details
type Safety struct {
	IsViolation *bool    `json:"isViolation,omitempty" yaml:"isViolation,omitempty"`
	Severity    Severity `json:"severity,omitempty" yaml:"severity,omitempty"`
	Rule        string   `json:"rule,omitempty" yaml:"rule,omitempty"`
}

// Progress carries construction progress details
type Progress struct {
	Phase           string   `json:"phase,omitempty" yaml:"phase,omitempty"`
	PercentComplete *float64 `json:"percentComplete,omitempty" yaml:"percentComplete,omitempty"`
	Notes           string   `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Attribute is a typed name/value pair attached to a detection
type Attribute struct {
	Name      string   `json:"name" yaml:"name"`
	ValueStr  *string  `json:"valueStr,omitempty" yaml:"valueStr,omitempty"`
	ValueNum  *float64 `json:"valueNum,omitempty" yaml:"valueNum,omitempty"`
	ValueBool *bool    `json:"valueBool,omitempty" yaml:"valueBool,omitempty"`
	Unit      string   `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// Detection is a single normalized finding for an image
type Detection struct {
	ID         string      `json:"id" yaml:"id"`
	Label      string      `json:"label" yaml:"label"`
	Category   Category    `json:"category" yaml:"category"`
	Confidence *float64    `json:"confidence" yaml:"confidence"`
	Box        *Box        `json:"bbox" yaml:"bbox"`
	Mask       string      `json:"mask,omitempty" yaml:"mask,omitempty"`
	Points     []Point     `json:"points" yaml:"points"`
	Polygon    []Point     `json:"polygon,omitempty" yaml:"polygon,omitempty"`
	Safety     *Safety     `json:"safety,omitempty" yaml:"safety,omitempty"`
	Progress   *Progress   `json:"progress,omitempty" yaml:"progress,omitempty"`
	Attributes []Attribute `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// HasGeometry reports whether the detection can be drawn
func (d Detection) HasGeometry() bool {
	return d.Box != nil || d.Mask != "" || len(d.Points) > 0 || len(d.Polygon) > 0
}

// Metric is a numeric measurement attached to a global insight
type Metric struct {
	Key   string  `json:"key" yaml:"key"`
	Value float64 `json:"value" yaml:"value"`
	Unit  string  `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// Insight is a whole-image finding without geometry
type Insight struct {
	Name        string   `json:"name" yaml:"name"`
	Category    Category `json:"category" yaml:"category"`
	Description string   `json:"description" yaml:"description"`
	Confidence  *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Metrics     []Metric `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// PercentMetric returns the first metric that looks like a completion percentage
func (in Insight) PercentMetric() (float64, bool) {
	for _, m := range in.Metrics {
		key := strings.ToLower(m.Key)
		if strings.Contains(key, "percent") || strings.Contains(key, "complete") {
			return m.Value, true
		}
	}
	return 0, false
}
