package overlay

import (
	"strings"
	"testing"
)

func TestMergeThreeWayCleanDistinctRegions(t *testing.T) {
	base := "one\ntwo\nthree\nfour\nfive\n"
	ours := "ONE\ntwo\nthree\nfour\nfive\n"
	theirs := "one\ntwo\nthree\nfour\nFIVE\n"

	res := MergeThreeWay([]byte(base), []byte(ours), []byte(theirs))
	if res.Conflicted {
		t.Fatalf("unexpected conflict:\n%s", res.Merged)
	}
	want := "ONE\ntwo\nthree\nfour\nFIVE\n"
	if string(res.Merged) != want {
		t.Errorf("merged = %q, want %q", res.Merged, want)
	}
}

func TestMergeThreeWayOnlyOursChanged(t *testing.T) {
	base := "a\nb\n"
	ours := "a\nb-ours\n"
	res := MergeThreeWay([]byte(base), []byte(ours), []byte(base))
	if res.Conflicted || string(res.Merged) != ours {
		t.Errorf("merged = %q conflicted=%v, want ours unchanged", res.Merged, res.Conflicted)
	}
}

func TestMergeThreeWayBothSameChange(t *testing.T) {
	base := "a\nb\n"
	both := "a\nB\n"
	res := MergeThreeWay([]byte(base), []byte(both), []byte(both))
	if res.Conflicted || string(res.Merged) != both {
		t.Errorf("merged = %q conflicted=%v, want shared change", res.Merged, res.Conflicted)
	}
}

func TestMergeThreeWayConflictMarkers(t *testing.T) {
	base := "line1\nline2\nline3\n"
	ours := "line1\nline2-ours\nline3\n"
	theirs := "line1\nline2-theirs\nline3\n"

	res := MergeThreeWay([]byte(base), []byte(ours), []byte(theirs))
	if !res.Conflicted {
		t.Fatalf("expected conflict, merged:\n%s", res.Merged)
	}
	out := string(res.Merged)
	for _, marker := range []string{"<<<<<<< ours\n", "=======\n", ">>>>>>> upstream\n"} {
		if !strings.Contains(out, marker) {
			t.Errorf("merged output missing marker %q:\n%s", marker, out)
		}
	}
	if !strings.Contains(out, "line2-ours\n") || !strings.Contains(out, "line2-theirs\n") {
		t.Errorf("conflict body missing both sides:\n%s", out)
	}
	if !strings.HasPrefix(out, "line1\n") || !strings.HasSuffix(out, "line3\n") {
		t.Errorf("context lines lost:\n%s", out)
	}
}

func TestMergeThreeWayDeletionVsEdit(t *testing.T) {
	base := "a\nb\nc\n"
	ours := "a\nc\n"          // deleted b
	theirs := "a\nb-edit\nc\n" // edited b

	res := MergeThreeWay([]byte(base), []byte(ours), []byte(theirs))
	if !res.Conflicted {
		t.Errorf("delete-vs-edit should conflict, merged:\n%s", res.Merged)
	}
}

func TestMergeThreeWayBothAppendSame(t *testing.T) {
	base := "a\n"
	both := "a\nnew\n"
	res := MergeThreeWay([]byte(base), []byte(both), []byte(both))
	if res.Conflicted || string(res.Merged) != both {
		t.Errorf("merged = %q conflicted=%v", res.Merged, res.Conflicted)
	}
}

func TestMergeThreeWayNoTrailingNewline(t *testing.T) {
	base := "a\nend"
	ours := "a\nend-ours"
	theirs := "a2\nend"

	res := MergeThreeWay([]byte(base), []byte(ours), []byte(theirs))
	if res.Conflicted {
		t.Fatalf("unexpected conflict:\n%s", res.Merged)
	}
	if string(res.Merged) != "a2\nend-ours" {
		t.Errorf("merged = %q", res.Merged)
	}
}

func TestMergeThreeWayIdenticalInputs(t *testing.T) {
	text := "stable\ncontent\n"
	res := MergeThreeWay([]byte(text), []byte(text), []byte(text))
	if res.Conflicted || string(res.Merged) != text {
		t.Errorf("identity merge broke: %q conflicted=%v", res.Merged, res.Conflicted)
	}
}
