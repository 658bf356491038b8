package swarm

import "testing"

func TestSteppedShapeMatchesWorkedExample(t *testing.T) {
	s := &SteppedShape{
		StartUsers:          1,
		Increment:           2,
		StepDurationSeconds: 2,
		MaxUsers:            5,
		SustainSeconds:      2,
		Rate:                10,
	}

	cases := []struct {
		t    float64
		want int
	}{
		{0, 1},
		{2, 3},
		{4, 5},
		{6, 5},
		{8, 5},
	}
	for _, c := range cases {
		got, stop := s.Tick(c.t)
		if got != c.want {
			t.Fatalf("Tick(%v) = %d, want %d", c.t, got, c.want)
		}
		if stop {
			t.Fatalf("Tick(%v) reported stop early", c.t)
		}
	}

	if _, stop := s.Tick(10); !stop {
		t.Fatalf("Tick(10) should report stop")
	}

	if got := s.TotalRunSeconds(); got != 8 {
		t.Fatalf("TotalRunSeconds() = %v, want 8", got)
	}
}

func TestFixedShapeHoldsThenStops(t *testing.T) {
	f := &FixedShape{Users: 10, Rate: 2, DurationSeconds: 30}

	got, stop := f.Tick(15)
	if got != 10 || stop {
		t.Fatalf("Tick(15) = (%d, %v), want (10, false)", got, stop)
	}

	got, stop = f.Tick(31)
	if got != 10 || !stop {
		t.Fatalf("Tick(31) = (%d, %v), want (10, true)", got, stop)
	}
}
