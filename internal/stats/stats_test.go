package stats

import "testing"

func TestRunningMeanStdDev(t *testing.T) {
	var r Running
	for _, x := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		r.Add(x)
	}
	if r.Count() != 8 {
		t.Fatalf("Count = %d, want 8", r.Count())
	}
	if diff := r.Mean() - 5; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Mean = %v, want 5", r.Mean())
	}
	if diff := r.StdDev() - 2; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("StdDev = %v, want 2", r.StdDev())
	}
}

func TestPointStats(t *testing.T) {
	var p PointStats
	p.Add(1, 2, 3)
	p.Add(3, 4, 5)
	if p.Count != 2 {
		t.Fatalf("Count = %d, want 2", p.Count)
	}
	if p.X.Mean() != 2 {
		t.Errorf("X mean = %v, want 2", p.X.Mean())
	}
}
