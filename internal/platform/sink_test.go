package platform

import (
	"context"
	"testing"
	"time"
)

func TestVideoSink_AttachProvidesImmediateFrame(t *testing.T) {
	ctx := context.Background()
	provider := NewFakeProvider()

	stream, err := provider.GetUserMedia(ctx, MediaConstraints{Width: 640, Height: 480, Exact: true})
	if err != nil {
		t.Fatalf("GetUserMedia failed: %v", err)
	}
	defer stream.Stop()

	sink := NewVideoSink()
	if sink.Attached() || sink.HasFrame() {
		t.Error("Expected detached sink without frames")
	}

	if err := sink.Attach(ctx, stream); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer sink.Detach()

	// 初回フレームは同期取得されるため、接続直後に利用できる
	if !sink.Attached() {
		t.Error("Expected attached sink")
	}
	if !sink.HasFrame() {
		t.Error("Expected frame immediately after attach")
	}

	frame, ok := sink.CurrentFrame()
	if !ok || frame == nil {
		t.Fatal("Expected current frame")
	}
	if frame.Bounds().Dx() != 640 || frame.Bounds().Dy() != 480 {
		t.Errorf("Unexpected frame size: %v", frame.Bounds())
	}
}

func TestVideoSink_DetachClearsFrame(t *testing.T) {
	ctx := context.Background()
	provider := NewFakeProvider()

	stream, err := provider.GetUserMedia(ctx, MediaConstraints{})
	if err != nil {
		t.Fatalf("GetUserMedia failed: %v", err)
	}
	defer stream.Stop()

	sink := NewVideoSink()
	if err := sink.Attach(ctx, stream); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	sink.Detach()

	if sink.Attached() {
		t.Error("Expected detached sink")
	}
	if sink.HasFrame() {
		t.Error("Expected frame to be cleared on detach")
	}

	// 未接続状態のDetachは何もしない
	sink.Detach()
}

func TestVideoSink_ReattachReplacesStream(t *testing.T) {
	ctx := context.Background()
	provider := NewFakeProvider()

	first, err := provider.GetUserMedia(ctx, MediaConstraints{Width: 640, Height: 480, Exact: true})
	if err != nil {
		t.Fatalf("GetUserMedia failed: %v", err)
	}
	defer first.Stop()

	second, err := provider.GetUserMedia(ctx, MediaConstraints{Width: 1280, Height: 720, Exact: true})
	if err != nil {
		t.Fatalf("GetUserMedia failed: %v", err)
	}
	defer second.Stop()

	sink := NewVideoSink()
	sink.SetPollInterval(10 * time.Millisecond)

	if err := sink.Attach(ctx, first); err != nil {
		t.Fatalf("First attach failed: %v", err)
	}
	// 再接続は既存の接続を置き換える
	if err := sink.Attach(ctx, second); err != nil {
		t.Fatalf("Second attach failed: %v", err)
	}
	defer sink.Detach()

	frame, ok := sink.CurrentFrame()
	if !ok {
		t.Fatal("Expected current frame")
	}
	if frame.Bounds().Dx() != 1280 || frame.Bounds().Dy() != 720 {
		t.Errorf("Expected frame from the new stream, got %v", frame.Bounds())
	}
}

func TestVideoSink_MirrorHint(t *testing.T) {
	sink := NewVideoSink()

	if sink.MirrorHint() {
		t.Error("Expected mirror hint disabled by default")
	}

	sink.SetMirrorHint(true)
	if !sink.MirrorHint() {
		t.Error("Expected mirror hint enabled")
	}
}
