package ratemeter

import (
	"math"
	"testing"
)

type fakeClock struct {
	t int64
}

func (c *fakeClock) now() int64 { return c.t }

func TestMeasureWindow(t *testing.T) {
	tests := []struct {
		name      string
		frequency float64
		delta     int64
		want      float64
	}{
		{"nano 50ms", 1e9, 50_000_000, 20},
		{"milli 40ms", 1e3, 40, 25},
		{"tick 10ms", 1e6, 10_000, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := &fakeClock{t: 1000}
			m := New(20, ClockNano, WithSource(clk.now, tt.frequency))

			for i := 1; i < 20; i++ {
				clk.t += tt.delta
				if got := m.Measure(); got != 0 {
					t.Fatalf("call %d: Measure() = %v, want cached 0", i, got)
				}
			}

			clk.t += tt.delta
			got := m.Measure()
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Measure() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMeasureReturnsCachedBetweenWraps(t *testing.T) {
	clk := &fakeClock{}
	m := New(20, ClockNano, WithSource(clk.now, 1e9))

	for i := 0; i < 20; i++ {
		clk.t += 50_000_000
		m.Measure()
	}
	first := m.FPS()

	// A slower second window must not show until its wrap.
	for i := 1; i < 20; i++ {
		clk.t += 100_000_000
		if got := m.Measure(); got != first {
			t.Fatalf("call %d: Measure() = %v, want cached %v", i, got, first)
		}
	}
	clk.t += 100_000_000
	if got := m.Measure(); math.Abs(got-10) > 1e-9 {
		t.Errorf("Measure() = %v, want 10", got)
	}
}

func TestDefaultStep(t *testing.T) {
	m := New(0, ClockTick)
	if m.step != DefaultStep {
		t.Errorf("step = %d, want %d", m.step, DefaultStep)
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    Clock
		wantErr bool
	}{
		{"", ClockTick, false},
		{"tick", ClockTick, false},
		{"milli", ClockMilli, false},
		{"nano", ClockNano, false},
		{"fortnight", ClockTick, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseClock(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseClock(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
