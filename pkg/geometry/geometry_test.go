package geometry

import (
	"math"
	"testing"

	"github.com/menta2k/site-analyzer/pkg/types"
)

func frame(cs CoordSystem, origin Origin, imgW, imgH, sx, sy, cw, ch float64) Frame {
	return Frame{
		CoordSystem: cs,
		Origin:      origin,
		ImageW:      imgW,
		ImageH:      imgH,
		ScaleX:      sx,
		ScaleY:      sy,
		CanvasW:     cw,
		CanvasH:     ch,
	}
}

func TestNormalizeBoxArrayNormalized(t *testing.T) {
	f := frame(Normalized1000, TopLeft, 200, 100, 1, 1, 200, 100)

	got, ok := NormalizeBox(ArrayBox{200, 100, 600, 500}, f)
	if !ok {
		t.Fatal("expected a box")
	}

	want := types.Box{X: 20, Y: 20, Width: 80, Height: 40}
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func TestNormalizeBox(t *testing.T) {
	tests := []struct {
		name string
		raw  RawBox
		f    Frame
		want types.Box
		ok   bool
	}{
		{
			name: "pixel object passes through",
			raw:  ObjectBox{X: 10, Y: 20, Width: 30, Height: 40},
			f:    frame(Pixel, TopLeft, 100, 100, 1, 1, 0, 0),
			want: types.Box{X: 10, Y: 20, Width: 30, Height: 40},
			ok:   true,
		},
		{
			name: "bottom-left origin flips y",
			raw:  ObjectBox{X: 10, Y: 20, Width: 30, Height: 40},
			f:    frame(Pixel, BottomLeft, 100, 100, 1, 1, 0, 0),
			want: types.Box{X: 10, Y: 40, Width: 30, Height: 40},
			ok:   true,
		},
		{
			name: "display scale applied",
			raw:  ObjectBox{X: 10, Y: 20, Width: 30, Height: 40},
			f:    frame(Pixel, TopLeft, 100, 100, 2, 0.5, 0, 0),
			want: types.Box{X: 20, Y: 10, Width: 60, Height: 20},
			ok:   true,
		},
		{
			name: "non-finite scale defaults to one",
			raw:  ObjectBox{X: 10, Y: 20, Width: 30, Height: 40},
			f:    frame(Pixel, TopLeft, 100, 100, math.NaN(), math.Inf(1), 0, 0),
			want: types.Box{X: 10, Y: 20, Width: 30, Height: 40},
			ok:   true,
		},
		{
			name: "clamped to canvas",
			raw:  ObjectBox{X: -10, Y: 90, Width: 200, Height: 50},
			f:    frame(Pixel, TopLeft, 100, 100, 1, 1, 100, 100),
			want: types.Box{X: 0, Y: 90, Width: 100, Height: 10},
			ok:   true,
		},
		{
			name: "inverted array yields empty extent",
			raw:  ArrayBox{600, 500, 200, 100},
			f:    frame(Pixel, TopLeft, 0, 0, 1, 1, 0, 0),
			want: types.Box{X: 500, Y: 600, Width: 0, Height: 0},
			ok:   true,
		},
		{
			name: "normalized without image dims stays raw",
			raw:  ArrayBox{200, 100, 600, 500},
			f:    frame(Normalized1000, TopLeft, 0, 0, 1, 1, 0, 0),
			want: types.Box{X: 100, Y: 200, Width: 400, Height: 400},
			ok:   true,
		},
		{
			name: "non-finite array rejected",
			raw:  ArrayBox{math.NaN(), 0, 1, 1},
			f:    frame(Pixel, TopLeft, 100, 100, 1, 1, 0, 0),
			ok:   false,
		},
		{
			name: "nil rejected",
			raw:  nil,
			f:    frame(Pixel, TopLeft, 100, 100, 1, 1, 0, 0),
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeBox(tt.raw, tt.f)
			if ok != tt.ok {
				t.Fatalf("Expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestNormalizeBoxNeverNegative(t *testing.T) {
	f := frame(Pixel, TopLeft, 100, 100, 1, 1, 0, 0)
	got, ok := NormalizeBox(ObjectBox{X: 5, Y: 5, Width: -10, Height: -3}, f)
	if !ok {
		t.Fatal("expected a box")
	}
	if got.Width < 0 || got.Height < 0 {
		t.Errorf("Expected non-negative extent, got %+v", got)
	}
}

func TestNormalizePoint(t *testing.T) {
	f := frame(Normalized1000, BottomLeft, 200, 100, 1, 1, 0, 0)

	got, ok := NormalizePoint(RawPoint{X: 500, Y: 250}, f)
	if !ok {
		t.Fatal("expected a point")
	}
	want := types.Point{X: 100, Y: 75}
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}

	if _, ok := NormalizePoint(RawPoint{X: math.Inf(-1), Y: 1}, f); ok {
		t.Error("Non-finite point should be rejected")
	}
}

func TestNormalizePolygon(t *testing.T) {
	f := frame(Pixel, TopLeft, 100, 100, 1, 1, 100, 100)

	pts := []RawPoint{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: math.NaN(), Y: 3}, {X: 10, Y: 10}}
	got, ok := NormalizePolygon(pts, f)
	if !ok {
		t.Fatal("expected a polygon")
	}
	if len(got) != 3 {
		t.Errorf("Expected 3 vertices, got %d", len(got))
	}

	if _, ok := NormalizePolygon(pts[:3], f); ok {
		t.Error("Polygon with two valid vertices should be rejected")
	}
}

func TestParseRawBox(t *testing.T) {
	if _, ok := ParseRawBox([]any{1.0, 2.0, 3.0}); ok {
		t.Error("Three-element array should be rejected")
	}
	if _, ok := ParseRawBox([]any{1.0, "2", 3.0, 4.0}); ok {
		t.Error("Non-numeric element should be rejected")
	}

	b, ok := ParseRawBox([]any{1.0, 2.0, 3.0, 4.0})
	if !ok {
		t.Fatal("expected array box")
	}
	if _, isArray := b.(ArrayBox); !isArray {
		t.Errorf("Expected ArrayBox, got %T", b)
	}

	b, ok = ParseRawBox(map[string]any{"x": 1.0, "y": 2.0, "w": 3.0, "h": 4.0})
	if !ok {
		t.Fatal("expected object box")
	}
	if ob := b.(ObjectBox); ob.Width != 3 || ob.Height != 4 {
		t.Errorf("Expected w/h aliases to be honored, got %+v", ob)
	}
}

func TestParsePoints(t *testing.T) {
	pts := ParsePoints([]any{
		[]any{10.0, 20.0},
		[]any{"bad"},
		[]any{30.0},
		map[string]any{"x": 5.0, "y": 6.0},
	})

	want := []RawPoint{{X: 20, Y: 10}, {X: 5, Y: 6}}
	if len(pts) != len(want) {
		t.Fatalf("Expected %d points, got %d", len(want), len(pts))
	}
	for i := range want {
		if pts[i] != want[i] {
			t.Errorf("Point %d: expected %+v, got %+v", i, want[i], pts[i])
		}
	}
}

func TestResolveHints(t *testing.T) {
	doc := map[string]any{
		"image": map[string]any{"coordSystem": "pixel", "origin": "sideways"},
		"detections": []any{
			map[string]any{"coordOrigin": "bottom-left"},
		},
	}

	if cs := ResolveCoordSystem(doc, Normalized1000); cs != Pixel {
		t.Errorf("Expected pixel, got %s", cs)
	}
	if o := ResolveOrigin(doc, TopLeft); o != BottomLeft {
		t.Errorf("Expected bottom-left, got %s", o)
	}
	if cs := ResolveCoordSystem(map[string]any{}, Normalized1000); cs != Normalized1000 {
		t.Errorf("Expected fallback, got %s", cs)
	}

	base := NewFrame(Pixel, TopLeft, 100, 100)
	item := ItemFrame(base, map[string]any{"coordSystem": "normalized_0_1000", "coordOrigin": "bogus"})
	if item.CoordSystem != Normalized1000 || item.Origin != TopLeft {
		t.Errorf("Unexpected item frame %+v", item)
	}
}

func BenchmarkNormalizeBox(b *testing.B) {
	f := frame(Normalized1000, TopLeft, 1920, 1080, 0.5, 0.5, 960, 540)
	box := ArrayBox{200, 100, 600, 500}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NormalizeBox(box, f)
	}
}
