// Package export serializes a finished session for reports and downloads.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/site-analyzer/pkg/session"
	"github.com/menta2k/site-analyzer/pkg/types"
)

// ImageRecord is one image as exported
type ImageRecord struct {
	ImageID        string            `json:"imageId" yaml:"imageId"`
	FileName       string            `json:"fileName" yaml:"fileName"`
	Status         types.Status      `json:"status" yaml:"status"`
	Width          int               `json:"width,omitempty" yaml:"width,omitempty"`
	Height         int               `json:"height,omitempty" yaml:"height,omitempty"`
	Detections     []types.Detection `json:"detections" yaml:"detections"`
	GlobalInsights []types.Insight   `json:"global_insights" yaml:"global_insights"`
	Error          string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report is the export contract: terminal tasks plus the finalized aggregates
type Report struct {
	SessionID         string                  `json:"sessionId" yaml:"sessionId"`
	Timestamp         time.Time               `json:"timestamp" yaml:"timestamp"`
	Status            session.Status          `json:"status" yaml:"status"`
	TotalImages       int                     `json:"totalImages" yaml:"totalImages"`
	CompletedImages   int                     `json:"completedImages" yaml:"completedImages"`
	FailedImages      int                     `json:"failedImages" yaml:"failedImages"`
	Images            []ImageRecord           `json:"images" yaml:"images"`
	SessionAggregates types.SessionAggregates `json:"sessionAggregates" yaml:"sessionAggregates"`
}

// NewReport snapshots s together with its aggregates
func NewReport(s *session.Session, agg types.SessionAggregates) Report {
	r := Report{
		SessionID:         s.ID,
		Timestamp:         s.CreatedAt,
		Status:            session.GetStatus(s),
		TotalImages:       agg.TotalImages,
		CompletedImages:   agg.CompletedImages,
		FailedImages:      agg.FailedImages,
		Images:            make([]ImageRecord, 0, len(s.Images)),
		SessionAggregates: agg,
	}
	for _, img := range s.Images {
		rec := ImageRecord{
			ImageID:        img.ID,
			FileName:       img.FileName,
			Status:         img.Status,
			Width:          img.Width,
			Height:         img.Height,
			Detections:     img.Result,
			GlobalInsights: img.Insights,
			Error:          img.ErrorMessage(),
		}
		if rec.Detections == nil {
			rec.Detections = []types.Detection{}
		}
		if rec.GlobalInsights == nil {
			rec.GlobalInsights = []types.Insight{}
		}
		r.Images = append(r.Images, rec)
	}
	return r
}

// SessionJSON writes the report as indented JSON
func SessionJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode session JSON: %w", err)
	}
	return nil
}

// SessionYAML writes the report as YAML
func SessionYAML(w io.Writer, r Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode session YAML: %w", err)
	}
	return enc.Close()
}

// SessionCSV writes one summary row per image followed by a session summary block
func SessionCSV(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)
	agg := r.SessionAggregates

	rows := [][]string{{"Image", "File Name", "Detections", "Safety Issues", "High", "Medium", "Low", "Status"}}
	for i, img := range agg.PerImage {
		status := "Completed"
		if img.Status == types.StatusError {
			msg := img.Error
			if msg == "" {
				msg = "Unknown error"
			}
			status = "Error: " + msg
		}
		rows = append(rows, []string{
			imageNumber(img.ImageID, i),
			img.FileName,
			strconv.Itoa(img.DetectionCount),
			strconv.Itoa(img.SafetyCount),
			strconv.Itoa(img.SafetyBySeverity.High),
			strconv.Itoa(img.SafetyBySeverity.Medium),
			strconv.Itoa(img.SafetyBySeverity.Low),
			status,
		})
	}

	rows = append(rows,
		nil,
		[]string{"Session Summary"},
		[]string{"Total Images", strconv.Itoa(agg.TotalImages)},
		[]string{"Completed", strconv.Itoa(agg.CompletedImages)},
		[]string{"Failed", strconv.Itoa(agg.FailedImages)},
		[]string{"Total Detections", strconv.Itoa(agg.TotalDetections)},
		[]string{"Total Safety Issues", strconv.Itoa(agg.TotalSafetyIssues)},
		[]string{"High Severity", strconv.Itoa(agg.SafetyBySeverity.High)},
		[]string{"Medium Severity", strconv.Itoa(agg.SafetyBySeverity.Medium)},
		[]string{"Low Severity", strconv.Itoa(agg.SafetyBySeverity.Low)},
	)

	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write session CSV: %w", err)
	}
	return nil
}

// DetectionsCSV writes one row per detection of every completed image
func DetectionsCSV(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"SessionID", "ImageID", "ImageName", "DetectionID", "Label", "Category",
		"Confidence", "SafetySeverity", "SafetyRule", "ProgressPhase", "ProgressPercent",
	}); err != nil {
		return fmt.Errorf("failed to write detections CSV: %w", err)
	}

	for _, img := range r.Images {
		if img.Status != types.StatusCompleted {
			continue
		}
		for _, det := range img.Detections {
			row := []string{r.SessionID, img.ImageID, img.FileName, det.ID, det.Label, string(det.Category), "", "", "", "", ""}
			if det.Confidence != nil {
				row[6] = strconv.FormatFloat(*det.Confidence, 'f', 4, 64)
			}
			if det.Safety != nil {
				row[7] = string(det.Safety.Severity)
				row[8] = det.Safety.Rule
			}
			if det.Progress != nil {
				row[9] = det.Progress.Phase
				if det.Progress.PercentComplete != nil {
					row[10] = strconv.FormatFloat(*det.Progress.PercentComplete, 'f', 2, 64)
				}
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("failed to write detections CSV: %w", err)
			}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to write detections CSV: %w", err)
	}
	return nil
}

// imageNumber turns img_007 into 7, falling back to the row position
func imageNumber(id string, i int) string {
	if n, err := strconv.Atoi(strings.TrimPrefix(id, "img_")); err == nil {
		return strconv.Itoa(n)
	}
	return strconv.Itoa(i + 1)
}
