//go:build linux && integration

package hotplug

import (
	"context"
	"testing"
	"time"
)

// TestMonitorIntegration needs a camera to be plugged or unplugged while
// it runs:
//
//	go test -tags=integration -run TestMonitorIntegration ./pkg/linuxav/hotplug
func TestMonitorIntegration(t *testing.T) {
	m, err := NewMonitor(SubsystemVideo4Linux)
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}
	defer func() { _ = m.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out := make(chan Event, 8)
	go func() { _ = m.Run(ctx, out) }()

	for ev := range out {
		t.Logf("%s %s dev=%s seq=%d", ev.Action, ev.KObj, ev.DevName, ev.Seq)
		if ev.Action == ActionRemove {
			return
		}
	}
	t.Log("no removal seen before the timeout")
}
