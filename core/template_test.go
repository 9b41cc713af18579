package core

import "testing"

func TestSubstituteBasic(t *testing.T) {
	params := SubstituteParams{
		Register: func(n int) (string, error) {
			return []string{"r10", "r11", "r12"}[n], nil
		},
		Type: func(n int) (string, error) { return "f32", nil },
	}
	got, err := Substitute("$r0 = $r1 + $r2;", params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "r10 = r11 + r12;"
	if got != want {
		t.Fatalf("Substitute() = %q, want %q", got, want)
	}
}

func TestSubstituteCast(t *testing.T) {
	params := SubstituteParams{
		Register: func(n int) (string, error) { return "r5", nil },
		Type:     func(n int) (string, error) { return "i32", nil },
	}
	got, err := Substitute("$r0 = ($t0)$r1;", params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "r5 = (i32)r5;" {
		t.Fatalf("Substitute() = %q", got)
	}
}

func TestSubstituteMissingResolver(t *testing.T) {
	_, err := Substitute("$r0 = 1;", SubstituteParams{})
	if err == nil {
		t.Fatal("expected an error when no Register resolver is supplied")
	}
}

func TestSubstituteVerbatimDollar(t *testing.T) {
	got, err := Substitute("cost: $5 flat", SubstituteParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "cost: $5 flat" {
		t.Fatalf("Substitute() = %q, want verbatim passthrough", got)
	}
}

func TestSubstituteWidth(t *testing.T) {
	params := SubstituteParams{Width: func() (string, error) { return "8", nil }}
	got, err := Substitute("$w0 lane_index", params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "8 lane_index" {
		t.Fatalf("Substitute() = %q", got)
	}
}
