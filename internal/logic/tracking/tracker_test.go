package tracking

import (
	"math"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestTracker() (*Tracker, *fakeClock) {
	tr := New(Config{FrameWidth: 640, FrameHeight: 480})
	clk := &fakeClock{t: time.Unix(1000, 0)}
	tr.now = clk.now
	return tr, clk
}

// det builds a detection whose center lands at (cx, cy).
func det(cx, cy, w, h float64) Detection {
	return Detection{X: cx - w/2, Y: cy - h/2, Width: w, Height: h, Confidence: 0.9}
}

func TestUpdate_AcquiresLargestDetection(t *testing.T) {
	tr, _ := newTestTracker()

	small := det(100, 100, 10, 10)
	big := det(500, 300, 40, 40)
	got, ok := tr.Update([]Detection{small, big})
	if !ok {
		t.Fatal("expected a track")
	}
	if got != big {
		t.Errorf("acquired %+v, want largest-area detection %+v", got, big)
	}
}

func TestUpdate_TiesBreakToInputOrder(t *testing.T) {
	tr, _ := newTestTracker()

	first := det(100, 100, 20, 20)
	second := det(500, 400, 20, 20) // same area
	got, _ := tr.Update([]Detection{first, second})
	if got != first {
		t.Errorf("equal-area tie: got %+v, want first in input order", got)
	}
}

func TestUpdate_ReassociatesToNearest(t *testing.T) {
	tr, _ := newTestTracker()

	tr.Update([]Detection{det(100, 100, 20, 20)})

	near := det(110, 105, 10, 10)
	farButBig := det(600, 400, 100, 100)
	got, _ := tr.Update([]Detection{farButBig, near})
	if got != near {
		t.Errorf("re-association picked %+v, want nearest %+v", got, near)
	}
}

func TestUpdate_HeldThroughBriefOcclusion(t *testing.T) {
	tr, clk := newTestTracker()

	want := det(100, 100, 20, 20)
	tr.Update([]Detection{want})

	// Empty frames for less than max_lost_time: track held unchanged.
	clk.advance(500 * time.Millisecond)
	got, ok := tr.Update(nil)
	if !ok || got != want {
		t.Fatalf("track not held through first empty frame: %+v ok=%v", got, ok)
	}
	clk.advance(1 * time.Second)
	if _, ok := tr.Update(nil); !ok {
		t.Fatal("track dropped within the grace period")
	}

	// Detections resume: previous track is still the association anchor.
	near := det(105, 100, 10, 10)
	got, ok = tr.Update([]Detection{det(600, 400, 10, 10), near})
	if !ok || got != near {
		t.Errorf("after occlusion got %+v, want nearest to held track", got)
	}
}

func TestUpdate_ClearedAfterMaxLostTime(t *testing.T) {
	tr, clk := newTestTracker()

	tr.Update([]Detection{det(100, 100, 20, 20)})

	clk.advance(100 * time.Millisecond)
	tr.Update(nil) // starts the lost timer

	clk.advance(2100 * time.Millisecond)
	if _, ok := tr.Update(nil); ok {
		t.Fatal("track still present after max_lost_time elapsed")
	}
	if tr.HasTarget() {
		t.Error("HasTarget = true after clearing")
	}
	if len(tr.history) != 0 {
		t.Error("position history not cleared with the track")
	}

	// Next detection acquires by area again.
	got, ok := tr.Update([]Detection{det(10, 10, 5, 5), det(600, 400, 50, 50)})
	if !ok || got != det(600, 400, 50, 50) {
		t.Errorf("fresh acquisition got %+v, want largest", got)
	}
}

func TestServoAngles_CenteredTargetIsZero(t *testing.T) {
	tr, _ := newTestTracker()

	tr.Update([]Detection{det(320, 240, 10, 10)})
	pan, tilt := tr.ServoAngles()
	if pan != 0 || tilt != 0 {
		t.Errorf("angles for centered target = (%v, %v), want (0, 0)", pan, tilt)
	}
	if !tr.IsCentered() {
		t.Error("IsCentered = false for a target at frame center")
	}
}

func TestServoAngles_DeadzoneSuppressesSmallErrors(t *testing.T) {
	tr, _ := newTestTracker()

	// 15px off on x (inside the 20px deadzone), 100px off on y.
	tr.Update([]Detection{det(335, 340, 10, 10)})
	pan, tilt := tr.ServoAngles()
	if pan != 0 {
		t.Errorf("pan = %v, want exactly 0 inside deadzone", pan)
	}
	if tilt == 0 {
		t.Error("tilt should be non-zero for a 100px error")
	}
}

func TestServoAngles_Scaling(t *testing.T) {
	tr, _ := newTestTracker()

	// error_x = 60 on a 640-wide frame with max_pan 90:
	// 60/320*90 = 16.875 degrees.
	tr.Update([]Detection{det(380, 240, 10, 10)})
	pan, tilt := tr.ServoAngles()
	if math.Abs(pan-16.875) > 1e-9 {
		t.Errorf("pan = %v, want 16.875", pan)
	}
	if tilt != 0 {
		t.Errorf("tilt = %v, want 0", tilt)
	}
}

func TestServoAngles_ClampedToMax(t *testing.T) {
	tr, _ := newTestTracker()
	tr.cfg.DeadzoneX = 1
	tr.cfg.DeadzoneY = 1

	// Push the smoothed position far outside the frame via a single
	// detection beyond the right edge.
	tr.Update([]Detection{det(2000, 2000, 10, 10)})
	pan, tilt := tr.ServoAngles()
	if pan != 90 {
		t.Errorf("pan = %v, want clamped 90", pan)
	}
	if tilt != 45 {
		t.Errorf("tilt = %v, want clamped 45", tilt)
	}
}

func TestSmoothing_MovingAverageOfHistory(t *testing.T) {
	tr, _ := newTestTracker()

	// Feed five positions along x; smoothed x is their mean.
	xs := []float64{300, 310, 320, 330, 340}
	for _, x := range xs {
		tr.Update([]Detection{det(x, 240, 10, 10)})
	}
	sx, sy := tr.smoothedLocked()
	if math.Abs(sx-320) > 1e-9 || math.Abs(sy-240) > 1e-9 {
		t.Errorf("smoothed = (%v, %v), want (320, 240)", sx, sy)
	}

	// Sixth position evicts the oldest (300): mean of 310..350 = 330.
	tr.Update([]Detection{det(350, 240, 10, 10)})
	sx, _ = tr.smoothedLocked()
	if math.Abs(sx-330) > 1e-9 {
		t.Errorf("smoothed after eviction = %v, want 330", sx)
	}
}

func TestIsCentered_Threshold(t *testing.T) {
	tr, _ := newTestTracker()

	tr.Update([]Detection{det(345, 240, 10, 10)}) // 25px error
	if !tr.IsCentered() {
		t.Error("IsCentered = false for 25px error with threshold 30")
	}

	tr.Reset()
	tr.Update([]Detection{det(360, 240, 10, 10)}) // 40px error
	if tr.IsCentered() {
		t.Error("IsCentered = true for 40px error with threshold 30")
	}
}

func TestIsCentered_FalseWithoutTarget(t *testing.T) {
	tr, _ := newTestTracker()
	if tr.IsCentered() {
		t.Error("IsCentered = true with no target")
	}
}

func TestTargetInfo_Snapshot(t *testing.T) {
	tr, _ := newTestTracker()

	if info := tr.TargetInfo(); info.HasTarget {
		t.Error("TargetInfo.HasTarget = true with no track")
	}

	tr.Update([]Detection{det(380, 240, 10, 10)})
	info := tr.TargetInfo()
	if !info.HasTarget || info.Target == nil {
		t.Fatal("TargetInfo missing target")
	}
	if math.Abs(info.ErrorX-60) > 1e-9 {
		t.Errorf("ErrorX = %v, want 60", info.ErrorX)
	}
	if math.Abs(info.Pan-16.875) > 1e-9 {
		t.Errorf("Pan = %v, want 16.875", info.Pan)
	}
	if info.Centered {
		t.Error("Centered = true for 60px error")
	}
}

func TestReset(t *testing.T) {
	tr, _ := newTestTracker()

	tr.Update([]Detection{det(100, 100, 20, 20)})
	tr.Reset()

	if tr.HasTarget() {
		t.Error("HasTarget = true after Reset")
	}
	if len(tr.history) != 0 {
		t.Error("history survived Reset")
	}
}
