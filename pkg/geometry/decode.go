package geometry

import (
	"encoding/json"
	"strings"
)

// ParseRawBox decodes a box from a generic JSON value. Arrays must hold exactly
// four numbers; objects need x, y and width/height (or w/h).
func ParseRawBox(v any) (RawBox, bool) {
	switch b := v.(type) {
	case []any:
		if len(b) != 4 {
			return nil, false
		}
		var out ArrayBox
		for i, e := range b {
			n, ok := Number(e)
			if !ok {
				return nil, false
			}
			out[i] = n
		}
		return out, true
	case map[string]any:
		x, okX := Number(b["x"])
		y, okY := Number(b["y"])
		w, okW := firstNumber(b, "width", "w")
		h, okH := firstNumber(b, "height", "h")
		if !okX || !okY || !okW || !okH {
			return nil, false
		}
		return ObjectBox{X: x, Y: y, Width: w, Height: h}, true
	}
	return nil, false
}

// ParseYXPoint decodes a [y, x] pair
func ParseYXPoint(v any) (RawPoint, bool) {
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return RawPoint{}, false
	}
	y, okY := Number(pair[0])
	x, okX := Number(pair[1])
	if !okX || !okY {
		return RawPoint{}, false
	}
	return RawPoint{X: x, Y: y}, true
}

// ParseXYPoint decodes an {x, y} object
func ParseXYPoint(v any) (RawPoint, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return RawPoint{}, false
	}
	x, okX := Number(obj["x"])
	y, okY := Number(obj["y"])
	if !okX || !okY {
		return RawPoint{}, false
	}
	return RawPoint{X: x, Y: y}, true
}

// ParsePoints decodes a list of points in either encoding, skipping the
// entries that are neither.
func ParsePoints(v any) []RawPoint {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]RawPoint, 0, len(list))
	for _, e := range list {
		if p, ok := ParseYXPoint(e); ok {
			out = append(out, p)
			continue
		}
		if p, ok := ParseXYPoint(e); ok {
			out = append(out, p)
		}
	}
	return out
}

// Number converts a decoded JSON number to float64
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, finite(n)
	case float32:
		return float64(n), finite(float64(n))
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil && finite(f)
	}
	return 0, false
}

func firstNumber(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return Number(v)
		}
	}
	return 0, false
}

// ResolveCoordSystem reads image.coordSystem from a parsed response
func ResolveCoordSystem(doc map[string]any, fallback CoordSystem) CoordSystem {
	if img, ok := doc["image"].(map[string]any); ok {
		if cs := CoordSystem(stringField(img, "coordSystem")); cs.Valid() {
			return cs
		}
	}
	return fallback
}

// ResolveOrigin returns the first valid origin hint: the image-level fields
// first, then the detections' own coordOrigin values.
func ResolveOrigin(doc map[string]any, fallback Origin) Origin {
	for _, o := range collectOrigins(doc) {
		if o.Valid() {
			return o
		}
	}
	return fallback
}

func collectOrigins(doc map[string]any) []Origin {
	var origins []Origin
	if img, ok := doc["image"].(map[string]any); ok {
		for _, k := range []string{"coordOrigin", "origin", "coordinateOrigin"} {
			origins = append(origins, Origin(stringField(img, k)))
		}
	}
	if dets, ok := doc["detections"].([]any); ok {
		for _, d := range dets {
			if det, ok := d.(map[string]any); ok {
				origins = append(origins, Origin(stringField(det, "coordOrigin")))
			}
		}
	}
	return origins
}

// ItemFrame applies an item's own coordSystem/coordOrigin hints on top of the
// image-level frame.
func ItemFrame(base Frame, item map[string]any) Frame {
	if cs := CoordSystem(stringField(item, "coordSystem")); cs.Valid() {
		base.CoordSystem = cs
	}
	if o := Origin(stringField(item, "coordOrigin")); o.Valid() {
		base.Origin = o
	}
	return base
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}
