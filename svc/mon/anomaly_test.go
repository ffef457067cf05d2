package mon

import (
	"testing"
)

func TestAnomalyDetectorRate(t *testing.T) {
	var fired float64
	d := NewAnomalyDetector(func(rate float64) { fired = rate })
	for i := 0; i < 20; i++ {
		d.RecordRequest()
	}
	for i := 0; i < 5; i++ {
		d.RecordError()
	}
	if rate := d.AdvanceWindow(); rate != 25 {
		t.Fatalf("rate = %v, want 25", rate)
	}
	if fired != 25 {
		t.Errorf("callback got %v, want 25", fired)
	}
}

// A bucket stays in the window for windowBuckets advances and is cleared
// on the advance that wraps back onto it.
func TestAnomalyDetectorWindowRollsOff(t *testing.T) {
	d := NewAnomalyDetector(nil)
	for i := 0; i < 4; i++ {
		d.RecordRequest()
		d.RecordError()
	}
	for i := 0; i < windowBuckets; i++ {
		if rate := d.AdvanceWindow(); rate != 100 {
			t.Fatalf("advance %d: rate = %v, want 100", i+1, rate)
		}
	}
	if rate := d.AdvanceWindow(); rate != 0 {
		t.Errorf("rate after window rolled = %v, want 0", rate)
	}
	d.Stop()
	d.Stop()
}

func TestAnomalyDetectorQuietBelowMinimum(t *testing.T) {
	called := false
	d := NewAnomalyDetector(func(float64) { called = true })
	for i := 0; i < minRequests; i++ {
		d.RecordRequest()
		d.RecordError()
	}
	d.AdvanceWindow()
	if called {
		t.Error("callback fired below the request minimum")
	}
}
