package types

import (
	"testing"
)

func TestRequiresLocalization(t *testing.T) {
	cases := map[ViewMode]bool{
		ViewOriginal:    false,
		ViewBoundingBox: true,
		ViewMask:        true,
		ViewMode(42):    false,
	}
	for mode, want := range cases {
		if got := mode.RequiresLocalization(); got != want {
			t.Errorf("%s: expected %v, got %v", mode, want, got)
		}
	}
}

func TestBoundingBoxValid(t *testing.T) {
	cases := map[string]struct {
		box  BoundingBox
		want bool
	}{
		"four":  {BoundingBox{0.1, 0.2, 0.3, 0.4}, true},
		"nil":   {nil, false},
		"three": {BoundingBox{0.1, 0.2, 0.3}, false},
		"five":  {BoundingBox{0.1, 0.2, 0.3, 0.4, 0.5}, false},
	}
	for name, tc := range cases {
		if got := tc.box.Valid(); got != tc.want {
			t.Errorf("%s: expected %v, got %v", name, tc.want, got)
		}
	}
}

func TestAnalysisResultCloneIsDeep(t *testing.T) {
	orig := AnalysisResult{
		TumorDetected: true,
		Localization: &Localization{
			BoundingBox: BoundingBox{0.1, 0.2, 0.3, 0.4},
			Mask:        "iVBORw0KGgo=",
		},
	}

	c := orig.Clone()
	c.Localization.Mask = "other"
	c.Localization.BoundingBox[0] = 0.9

	if orig.Localization.Mask != "iVBORw0KGgo=" {
		t.Error("Clone shares the localization")
	}
	if orig.Localization.BoundingBox[0] != 0.1 {
		t.Error("Clone shares the bounding box")
	}

	var empty AnalysisResult
	if empty.Clone().Localization != nil {
		t.Error("Clone of a result without localization must keep it nil")
	}
}
