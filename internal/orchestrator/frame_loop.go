package orchestrator

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"log/slog"
	"time"
)

// frameInterval matches the encoder's 30fps target; the capture/encode/send
// cycle runs on this cadence rather than a tight loop so a placeholder or
// GDI capturer doesn't spin.
const frameInterval = time.Second / 30

// startFrameLoop begins the capture->encode->send cycle gated on an
// authenticated lease. Safe to call only while holding no lock; it takes
// its own snapshot of the active monitor on every tick so a concurrent
// monitor_switch is picked up without restarting the loop.
func (o *Orchestrator) startFrameLoop() {
	o.mu.Lock()
	if o.frameCancel != nil {
		o.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.frameCancel = cancel
	done := make(chan struct{})
	o.frameDone = done
	o.mu.Unlock()

	go o.runFrameLoop(ctx, done)
}

// stopFrameLoop cancels the frame loop and waits for it to exit, so capture
// and encoder resources are never touched concurrently with a reset.
func (o *Orchestrator) stopFrameLoop() {
	o.mu.Lock()
	cancel := o.frameCancel
	done := o.frameDone
	o.frameCancel = nil
	o.frameDone = nil
	o.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

func (o *Orchestrator) runFrameLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !o.authenticated() {
				return
			}
			o.captureEncodeSend()
		}
	}
}

// captureEncodeSend runs exactly one tick of the pipeline: capture the
// active monitor, encode the frame, and hand it to the three-tier frame
// transport. Errors are logged, not fatal — a dropped tick just means one
// fewer frame this cycle.
func (o *Orchestrator) captureEncodeSend() {
	monitorID := o.activeMonitorID()

	frame, err := o.capturer.Capture(monitorID)
	if err != nil || frame == nil {
		if err != nil {
			slog.Debug("orchestrator: capture failed", "error", err)
		}
		return
	}

	result, err := o.encoder.Encode(frame.Pix, frame.Rect.Dx(), frame.Rect.Dy())
	if err != nil {
		// The VP8 path is down for this frame; fall back to a still image
		// over the data channel rather than dropping the tick silently.
		slog.Warn("orchestrator: encode failed, falling back to still image", "error", err)
		o.sendStillImage(frame)
		return
	}

	o.sendFrame(result.Payload, result.KeyFrame, frame.Rect.Dx(), frame.Rect.Dy())
}

// sendStillImage PNG-encodes frame and sends it through the same three-tier
// transport sendFrame uses, tagged "image/png" instead of "vp8" so the
// operator can tell a keyframe-over-VP8 apart from an EncodeUnavailable
// fallback.
func (o *Orchestrator) sendStillImage(frame *image.RGBA) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, frame); err != nil {
		slog.Warn("orchestrator: still-image encode failed, dropping frame", "error", err)
		return
	}
	o.sendFrame(buf.Bytes(), true, frame.Rect.Dx(), frame.Rect.Dy(), "image/png")
}
