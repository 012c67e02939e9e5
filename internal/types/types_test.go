package types

import "testing"

func TestShardOf(t *testing.T) {
	cases := map[string]string{
		"AB12cd34-...": "ab",
		"00000000":     "00",
		"x":            "00",
		"":             "00",
		"FFabcdef":     "ff",
	}
	for id, want := range cases {
		if got := ShardOf(id); got != want {
			t.Errorf("ShardOf(%q) = %q, want %q", id, got, want)
		}
	}
}

func TestMeanVector(t *testing.T) {
	a := []float32{0, 2, 4}
	b := []float32{2, 4, 6}
	got := MeanVector(a, b)
	want := []float32{1, 3, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("MeanVector() = %v, want %v", got, want)
		}
	}
}

func TestShapeFilterEqualityAndMembership(t *testing.T) {
	f := ShapeFilter(map[string]any{
		"type": "doc",
		"tag":  []any{"a", "b"},
	})

	if !f("id1", Metadata{"type": "doc", "tag": "a"}) {
		t.Error("expected match on equality + membership")
	}
	if f("id1", Metadata{"type": "other", "tag": "a"}) {
		t.Error("expected rejection on type mismatch")
	}
	if f("id1", Metadata{"type": "doc", "tag": "z"}) {
		t.Error("expected rejection on membership miss")
	}
	if f("id1", Metadata{"type": "doc"}) {
		t.Error("expected rejection on missing field")
	}
}

func TestCandidateIDFilter(t *testing.T) {
	f := CandidateIDFilter([]string{"a", "b"})
	if !f("a", nil) || f("c", nil) {
		t.Error("CandidateIDFilter did not restrict to the supplied set")
	}
}

func TestErrorKindWrapping(t *testing.T) {
	err := Newf(KindNotFound, "store.get", "entity %s missing", "x")
	if KindOf(err) != KindNotFound {
		t.Fatalf("KindOf() = %v, want NotFound", KindOf(err))
	}
	if !IsKind(err, KindNotFound) {
		t.Error("IsKind should match NotFound")
	}
	if Retryable(err) {
		t.Error("NotFound should not be retryable")
	}
	if !Retryable(Newf(KindThrottled, "op", "rate limited")) {
		t.Error("Throttled should be retryable")
	}
}
