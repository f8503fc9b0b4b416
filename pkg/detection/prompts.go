package detection

import "encoding/json"

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// ItemsPrompt asks for the compact items schema with 0..1000 boxes
const ItemsPrompt = `Detect all salient objects in the image.
Respond with a single JSON object that matches the response schema.
For each item:
- Provide "label" with a concise description (avoid prose).
- Provide "box_2d" as [y0, x0, y1, x1] in the 0-1000 normalized space using a top-left origin.
- Include "mask" only when a segmentation mask is useful. Encode it as a base64 PNG probability map covering the same region as the box. Use the full PNG data, no prefixes.
- Include "points" only when useful. Each point must be [y, x] in the same 0-1000 normalized coordinate space.
Limit to at most 25 items. If uncertain about a region, omit it.
Output JSON only. Do not include prose, markdown, or code fences.`

// SitePrompt asks for the full construction site schema
const SitePrompt = `You are a construction site computer-vision assistant.
Return findings strictly matching the provided response schema across FOUR categories:
1) General objects (e.g., ladder, scaffold, duct, rebar, crane hook).
2) Facility assets (e.g., exit sign, fire extinguisher, panel/valve).
3) Safety issues (e.g., missing PPE, unguarded edge, ladder angle > 75 deg, blocked exit).
4) Progress/scene insights (e.g., "drywall phase ~70%", "MEP rough-in present", "finishes started").

Geometry:
- Use bbox (pixel coords, top-left origin) when localizable.
- Use polygon only when a box would be misleading.
- For whole-image findings (e.g., overall progress), use no geometry under detections (prefer global_insights).

Safety:
- For safety items, set category: "safety_issue" and fill safety.{isViolation, severity, rule}.

Progress:
- For per-region progress, set category: "progress" and fill progress.{phase, percentComplete, notes}.
- For overall progress, prefer global_insights (no geometry).

Attributes:
- Add useful metadata as {name, valueNum|valueStr|valueBool, unit?}, e.g., {name:"ladder_angle_deg", valueNum:68, unit:"deg"}.

Coordinates:
- Set image.coordSystem explicitly to "pixel" if your numbers are pixels,
  or "normalized_0_1000" if you follow the 0..1000 normalization.
Be conservative; reflect uncertainty in confidence. Output ONLY JSON (no prose).`

// Mode selects the prompt and response schema pair
type Mode string

const (
	ModeItems Mode = "items"
	ModeSite  Mode = "site"
)

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	return m == ModeItems || m == ModeSite
}

// Prompt returns the default prompt for m
func (m Mode) Prompt() string {
	if m == ModeItems {
		return ItemsPrompt
	}
	return SitePrompt
}

// Schema returns the structured-output schema for m
func (m Mode) Schema() json.RawMessage {
	if m == ModeItems {
		return ItemsSchema
	}
	return SiteSchema
}

// ItemsSchema is the response schema matching ItemsPrompt
var ItemsSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "string", "nullable": true},
          "label": {"type": "string"},
          "box_2d": {"type": "array", "items": {"type": "number"}},
          "mask": {"type": "string", "nullable": true},
          "points": {"type": "array", "items": {"type": "array", "items": {"type": "number"}}, "nullable": true}
        },
        "required": ["label", "box_2d"]
      }
    }
  },
  "required": ["items"]
}`)

// SiteSchema is the response schema matching SitePrompt
var SiteSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "image": {
      "type": "object",
      "properties": {
        "width": {"type": "number", "nullable": true},
        "height": {"type": "number", "nullable": true},
        "coordSystem": {"type": "string", "enum": ["pixel", "normalized_0_1000"], "nullable": true}
      },
      "nullable": true
    },
    "detections": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "string"},
          "label": {"type": "string"},
          "category": {"type": "string", "enum": ["object", "facility_asset", "safety_issue", "progress", "other"]},
          "confidence": {"type": "number"},
          "bbox": {
            "type": "object",
            "properties": {"x": {"type": "number"}, "y": {"type": "number"}, "width": {"type": "number"}, "height": {"type": "number"}},
            "required": ["x", "y", "width", "height"],
            "nullable": true
          },
          "polygon": {
            "type": "array",
            "items": {"type": "object", "properties": {"x": {"type": "number"}, "y": {"type": "number"}}, "required": ["x", "y"]},
            "nullable": true
          },
          "safety": {
            "type": "object",
            "properties": {
              "isViolation": {"type": "boolean", "nullable": true},
              "severity": {"type": "string", "enum": ["low", "medium", "high"], "nullable": true},
              "rule": {"type": "string", "nullable": true}
            },
            "nullable": true
          },
          "progress": {
            "type": "object",
            "properties": {
              "phase": {"type": "string", "nullable": true},
              "percentComplete": {"type": "number", "nullable": true},
              "notes": {"type": "string", "nullable": true}
            },
            "nullable": true
          },
          "attributes": {
            "type": "array",
            "items": {
              "type": "object",
              "properties": {
                "name": {"type": "string"},
                "valueStr": {"type": "string", "nullable": true},
                "valueNum": {"type": "number", "nullable": true},
                "valueBool": {"type": "boolean", "nullable": true},
                "unit": {"type": "string", "nullable": true}
              },
              "required": ["name"]
            },
            "nullable": true
          }
        },
        "required": ["id", "label", "category", "confidence"]
      }
    },
    "global_insights": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "category": {"type": "string", "enum": ["progress", "safety_issue", "facility_asset", "object", "other"]},
          "description": {"type": "string"},
          "confidence": {"type": "number"},
          "metrics": {
            "type": "array",
            "items": {"type": "object", "properties": {"key": {"type": "string"}, "value": {"type": "number"}, "unit": {"type": "string", "nullable": true}}, "required": ["key", "value"]},
            "nullable": true
          }
        },
        "required": ["name", "category", "description", "confidence"]
      }
    }
  },
  "required": ["detections", "global_insights"]
}`)
