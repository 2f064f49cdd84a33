package app

import (
	"testing"
)

func newTestOverlay(t *testing.T) *TextOverlay {
	t.Helper()
	overlay, err := NewTextOverlay(15)
	if err != nil {
		t.Fatalf("NewTextOverlay: %v", err)
	}
	return overlay
}

func TestTextOverlayAtlas(t *testing.T) {
	overlay := newTestOverlay(t)

	if len(overlay.glyphs) < 90 {
		t.Errorf("expected the printable ASCII range in the atlas, got %d glyphs", len(overlay.glyphs))
	}
	for _, r := range "Az0 ~" {
		if _, ok := overlay.glyphs[r]; !ok {
			t.Errorf("missing glyph %q", r)
		}
	}

	nonzero := 0
	for _, a := range overlay.Atlas.Pix {
		if a != 0 {
			nonzero++
		}
	}
	if nonzero == 0 {
		t.Error("atlas has no coverage at all")
	}

	if g := overlay.glyphs['A']; g.adv <= 0 {
		t.Errorf("glyph 'A' has advance %v", g.adv)
	}
}

func TestBuildVertices(t *testing.T) {
	overlay := newTestOverlay(t)

	items := []TextItem{{
		Text:     "AB",
		Position: [2]float32{10, 10},
		Scale:    1,
		Color:    [4]float32{1, 1, 1, 1},
	}}
	verts := overlay.BuildVertices(items, 800, 600)
	if len(verts) != 12 {
		t.Fatalf("expected 12 vertices for two glyphs, got %d", len(verts))
	}
	for i, v := range verts {
		if v.Pos[0] < -1 || v.Pos[0] > 1 || v.Pos[1] < -1 || v.Pos[1] > 1 {
			t.Errorf("vertex %d outside NDC: %v", i, v.Pos)
		}
		if v.UV[0] < 0 || v.UV[0] > 1 || v.UV[1] < 0 || v.UV[1] > 1 {
			t.Errorf("vertex %d has uv outside atlas: %v", i, v.UV)
		}
		if v.Color != [4]float32{1, 1, 1, 1} {
			t.Errorf("vertex %d lost its color: %v", i, v.Color)
		}
	}

	// Top-left anchored: the quad sits in the upper-left NDC quadrant.
	if verts[0].Pos[0] > 0 || verts[0].Pos[1] < 0 {
		t.Errorf("text at (10,10) should render top-left, first vertex at %v", verts[0].Pos)
	}
}

func TestBuildVerticesNewline(t *testing.T) {
	overlay := newTestOverlay(t)

	items := []TextItem{{
		Text:     "A\nA",
		Position: [2]float32{10, 10},
		Scale:    1,
		Color:    [4]float32{1, 1, 1, 1},
	}}
	verts := overlay.BuildVertices(items, 800, 600)
	if len(verts) != 12 {
		t.Fatalf("expected 12 vertices, got %d", len(verts))
	}

	// Same column, second line strictly below (smaller NDC y).
	if verts[6].Pos[0] != verts[0].Pos[0] {
		t.Errorf("newline should reset x: %v vs %v", verts[6].Pos[0], verts[0].Pos[0])
	}
	if verts[6].Pos[1] >= verts[0].Pos[1] {
		t.Errorf("second line should be below the first: %v vs %v", verts[6].Pos[1], verts[0].Pos[1])
	}
}

func TestBuildVerticesSkipsUnknownRunes(t *testing.T) {
	overlay := newTestOverlay(t)

	plain := overlay.BuildVertices([]TextItem{{Text: "AB", Scale: 1}}, 800, 600)
	mixed := overlay.BuildVertices([]TextItem{{Text: "A€B", Scale: 1}}, 800, 600)
	if len(mixed) != len(plain) {
		t.Errorf("non-ASCII rune should be skipped: %d vs %d vertices", len(mixed), len(plain))
	}
}

func TestBuildVerticesDegenerateScreen(t *testing.T) {
	overlay := newTestOverlay(t)
	items := []TextItem{{Text: "A", Scale: 1}}
	if verts := overlay.BuildVertices(items, 0, 600); verts != nil {
		t.Errorf("zero-width screen should produce nothing, got %d vertices", len(verts))
	}
}

func TestMeasure(t *testing.T) {
	overlay := newTestOverlay(t)

	advA := overlay.glyphs['A'].adv
	advB := overlay.glyphs['B'].adv

	w, h := overlay.Measure("AB", 1)
	if !closeEnough(w, advA+advB) {
		t.Errorf("width = %v, want %v", w, advA+advB)
	}
	if !closeEnough(h, overlay.LineHeight(1)) {
		t.Errorf("height = %v, want one line height %v", h, overlay.LineHeight(1))
	}

	w2, h2 := overlay.Measure("A\nAB", 2)
	if !closeEnough(w2, (advA+advB)*2) {
		t.Errorf("widest line should win: %v, want %v", w2, (advA+advB)*2)
	}
	if !closeEnough(h2, overlay.LineHeight(2)*2) {
		t.Errorf("two lines at scale 2 = %v, want %v", h2, overlay.LineHeight(2)*2)
	}
}

func closeEnough(a, b float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-4
}
