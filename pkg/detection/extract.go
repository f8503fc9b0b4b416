package detection

import (
	"errors"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/menta2k/site-analyzer/pkg/geometry"
	"github.com/menta2k/site-analyzer/pkg/recovery"
	"github.com/menta2k/site-analyzer/pkg/types"
)

// ErrUnexpectedShape is returned when the parsed output is neither an object nor a list
var ErrUnexpectedShape = errors.New("model output is not a detection document")

// ExtractOptions controls how raw geometry is mapped
type ExtractOptions struct {
	// Frame supplies image dimensions, display scale and canvas. Its
	// CoordSystem and Origin are fallbacks used when the document is silent;
	// leave them empty to infer them per item.
	Frame geometry.Frame
	// Parser decides which mask strings are truncated. Nil uses the defaults.
	Parser *recovery.Parser
}

// Extract maps a parsed model document onto detections and insights.
//
// Both the compact {"items": [...]} form and the full {"detections": [...],
// "global_insights": [...]} form are accepted, as is a bare list of items.
// Geometry that cannot be normalized is dropped; the detection is kept.
func Extract(doc any, opts ExtractOptions) ([]types.Detection, []types.Insight, error) {
	var root map[string]any
	switch v := doc.(type) {
	case map[string]any:
		root = v
	case []any:
		root = map[string]any{"items": v}
	default:
		return nil, nil, ErrUnexpectedShape
	}

	frame := opts.Frame
	if img, ok := root["image"].(map[string]any); ok {
		if missing(frame.ImageW) {
			frame.ImageW, _ = geometry.Number(img["width"])
		}
		if missing(frame.ImageH) {
			frame.ImageH, _ = geometry.Number(img["height"])
		}
	}
	frame.CoordSystem = geometry.ResolveCoordSystem(root, frame.CoordSystem)
	frame.Origin = geometry.ResolveOrigin(root, frame.Origin)

	truncated := recovery.IsTruncated
	if opts.Parser != nil {
		truncated = opts.Parser.IsTruncated
	}

	dets := []types.Detection{}
	for _, key := range []string{"items", "detections"} {
		list, _ := root[key].([]any)
		for _, raw := range list {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			dets = append(dets, extractDetection(item, itemFrame(frame, item), truncated))
		}
	}

	insights := []types.Insight{}
	if list, ok := root["global_insights"].([]any); ok {
		for _, raw := range list {
			if in, ok := raw.(map[string]any); ok {
				insights = append(insights, extractInsight(in))
			}
		}
	}

	return dets, insights, nil
}

// itemFrame settles the coordinate system of one item. Array boxes and [y,x]
// points default to 0..1000; object boxes and polygons default to pixels.
func itemFrame(base geometry.Frame, item map[string]any) geometry.Frame {
	f := geometry.ItemFrame(base, item)
	if !f.CoordSystem.Valid() {
		f.CoordSystem = geometry.Pixel
		if usesArrayGeometry(item) {
			f.CoordSystem = geometry.Normalized1000
		}
	}
	if !f.Origin.Valid() {
		f.Origin = geometry.DefaultOrigin
	}
	return f
}

func usesArrayGeometry(item map[string]any) bool {
	if _, ok := item["box_2d"]; ok {
		return true
	}
	if _, ok := item["bbox"].([]any); ok {
		return true
	}
	_, ok := item["points"].([]any)
	return ok
}

func extractDetection(item map[string]any, f geometry.Frame, truncated func(string) bool) types.Detection {
	det := types.Detection{
		ID:       stringField(item, "id"),
		Label:    stringField(item, "label"),
		Category: types.CategoryObject,
	}
	if det.ID == "" {
		det.ID = uuid.NewString()
	}
	if c := stringField(item, "category"); c != "" {
		det.Category = types.ParseCategory(c)
	}
	if v, ok := geometry.Number(item["confidence"]); ok {
		det.Confidence = &v
	}

	for _, key := range []string{"box_2d", "bbox", "box"} {
		v, present := item[key]
		if !present || v == nil {
			continue
		}
		if raw, ok := geometry.ParseRawBox(v); ok {
			if box, ok := geometry.NormalizeBox(raw, f); ok {
				det.Box = &box
			}
		}
		break
	}

	if mask, ok := item["mask"].(string); ok {
		mask = strings.TrimSpace(mask)
		if mask != "" && !truncated(mask) {
			det.Mask = mask
		}
	}

	if pts := geometry.NormalizePoints(geometry.ParsePoints(item["points"]), f); len(pts) > 0 {
		det.Points = pts
	}
	if poly, ok := geometry.NormalizePolygon(geometry.ParsePoints(item["polygon"]), f); ok {
		det.Polygon = poly
	}

	if s, ok := item["safety"].(map[string]any); ok {
		det.Safety = &types.Safety{Rule: stringField(s, "rule")}
		if b, ok := s["isViolation"].(bool); ok {
			det.Safety.IsViolation = &b
		}
		if sev := stringField(s, "severity"); sev != "" {
			det.Safety.Severity = types.ParseSeverity(sev)
		}
	}

	if p, ok := item["progress"].(map[string]any); ok {
		det.Progress = &types.Progress{
			Phase: stringField(p, "phase"),
			Notes: stringField(p, "notes"),
		}
		if v, ok := geometry.Number(p["percentComplete"]); ok {
			det.Progress.PercentComplete = &v
		}
	}

	if attrs, ok := item["attributes"].([]any); ok {
		for _, raw := range attrs {
			a, ok := raw.(map[string]any)
			if !ok || stringField(a, "name") == "" {
				continue
			}
			det.Attributes = append(det.Attributes, extractAttribute(a))
		}
	}

	return det
}

func extractAttribute(a map[string]any) types.Attribute {
	attr := types.Attribute{Name: stringField(a, "name"), Unit: stringField(a, "unit")}
	if s, ok := a["valueStr"].(string); ok {
		attr.ValueStr = &s
	}
	if v, ok := geometry.Number(a["valueNum"]); ok {
		attr.ValueNum = &v
	}
	if b, ok := a["valueBool"].(bool); ok {
		attr.ValueBool = &b
	}
	return attr
}

func extractInsight(in map[string]any) types.Insight {
	out := types.Insight{
		Name:        stringField(in, "name"),
		Category:    types.ParseCategory(stringField(in, "category")),
		Description: stringField(in, "description"),
	}
	if v, ok := geometry.Number(in["confidence"]); ok {
		out.Confidence = &v
	}
	if metrics, ok := in["metrics"].([]any); ok {
		for _, raw := range metrics {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			v, ok := geometry.Number(m["value"])
			if !ok {
				continue
			}
			out.Metrics = append(out.Metrics, types.Metric{Key: stringField(m, "key"), Value: v, Unit: stringField(m, "unit")})
		}
	}
	return out
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func missing(v float64) bool {
	return v <= 0 || math.IsNaN(v) || math.IsInf(v, 0)
}
