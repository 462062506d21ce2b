package device

import (
	"context"
	"errors"
	"testing"

	"hitomi/internal/platform"
)

func TestListVideoDevices_FiltersKind(t *testing.T) {
	ctx := context.Background()
	provider := platform.NewFakeProvider()
	provider.SetDevices([]platform.DeviceDescriptor{
		{DeviceID: "cam-0", Kind: platform.KindVideoInput, Label: "前面カメラ"},
		{DeviceID: "mic-0", Kind: platform.KindAudioInput, Label: "内蔵マイク"},
		{DeviceID: "cam-1", Kind: platform.KindVideoInput, Label: "背面カメラ"},
	})

	manager := NewManager(provider)

	devices, err := manager.ListVideoDevices(ctx)
	if err != nil {
		t.Fatalf("ListVideoDevices failed: %v", err)
	}

	// 映像入力のみが返る
	if len(devices) != 2 {
		t.Fatalf("Expected 2 video devices, got %d", len(devices))
	}
	for _, d := range devices {
		if d.Kind != platform.KindVideoInput {
			t.Errorf("Expected video input kind, got %s", d.Kind)
		}
	}
}

func TestListVideoDevices_EnumerationFailure(t *testing.T) {
	ctx := context.Background()
	provider := platform.NewFakeProvider()
	provider.SetEnumerateError(errors.New("udev unavailable"))

	manager := NewManager(provider)

	_, err := manager.ListVideoDevices(ctx)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if code := platform.CodeOf(err); code != platform.CodeDevices {
		t.Errorf("Expected devices error code, got %s", code)
	}
}

func TestCheckPermissions_IndependentKinds(t *testing.T) {
	ctx := context.Background()
	provider := platform.NewFakeProvider()
	provider.SetPermission(platform.PermissionCamera, platform.PermissionGranted)
	provider.SetPermission(platform.PermissionMicrophone, platform.PermissionDenied)

	manager := NewManager(provider)

	result := manager.CheckPermissions(ctx)

	if result[platform.PermissionCamera] != platform.PermissionGranted {
		t.Errorf("Expected camera granted, got %s", result[platform.PermissionCamera])
	}
	if result[platform.PermissionMicrophone] != platform.PermissionDenied {
		t.Errorf("Expected microphone denied, got %s", result[platform.PermissionMicrophone])
	}
}

func TestCheckPermissions_UnsupportedQueryDegradesToPrompt(t *testing.T) {
	ctx := context.Background()
	provider := platform.NewFakeProvider()
	provider.SetPermission(platform.PermissionCamera, platform.PermissionGranted)
	provider.SetPermissionQueryUnsupported(platform.PermissionMicrophone, true)

	manager := NewManager(provider)

	// クエリ非サポートの種別はpromptへ縮退し、他の種別には影響しない
	result := manager.CheckPermissions(ctx)

	if result[platform.PermissionCamera] != platform.PermissionGranted {
		t.Errorf("Expected camera granted, got %s", result[platform.PermissionCamera])
	}
	if result[platform.PermissionMicrophone] != platform.PermissionPrompt {
		t.Errorf("Expected microphone prompt, got %s", result[platform.PermissionMicrophone])
	}
}

func TestRequestPermissions_ClosesTransientStream(t *testing.T) {
	ctx := context.Background()
	provider := platform.NewFakeProvider()

	manager := NewManager(provider)

	result := manager.RequestPermissions(ctx, RequestOptions{Video: true})

	if result[platform.PermissionCamera] != platform.PermissionGranted {
		t.Errorf("Expected camera granted, got %s", result[platform.PermissionCamera])
	}
	// 一時ストリームを開きっぱなしにしない
	if provider.OpenStreams() != 0 {
		t.Errorf("Expected 0 open streams, got %d", provider.OpenStreams())
	}
	if provider.GetUserMediaCalls() != 1 {
		t.Errorf("Expected 1 getUserMedia call, got %d", provider.GetUserMediaCalls())
	}
}

func TestRequestPermissions_DeniedStillReportsState(t *testing.T) {
	ctx := context.Background()
	provider := platform.NewFakeProvider()
	provider.SetPermission(platform.PermissionCamera, platform.PermissionDenied)

	manager := NewManager(provider)

	// 取得失敗でもエラーにせず最新の権限状態を返す
	result := manager.RequestPermissions(ctx, RequestOptions{Video: true})

	if result[platform.PermissionCamera] != platform.PermissionDenied {
		t.Errorf("Expected camera denied, got %s", result[platform.PermissionCamera])
	}
	if provider.OpenStreams() != 0 {
		t.Errorf("Expected 0 open streams, got %d", provider.OpenStreams())
	}
}

func TestRequestPermissions_DefaultsToVideo(t *testing.T) {
	ctx := context.Background()
	provider := platform.NewFakeProvider()

	manager := NewManager(provider)

	// 対象未指定は映像要求として扱う
	manager.RequestPermissions(ctx, RequestOptions{})

	if provider.GetUserMediaCalls() != 1 {
		t.Errorf("Expected 1 getUserMedia call, got %d", provider.GetUserMediaCalls())
	}
}

func TestProbeCapabilities_ClosesStream(t *testing.T) {
	ctx := context.Background()
	provider := platform.NewFakeProvider()

	manager := NewManager(provider)

	caps, err := manager.ProbeCapabilities(ctx, "fake-video-0")
	if err != nil {
		t.Fatalf("ProbeCapabilities failed: %v", err)
	}

	if caps.DeviceID != "fake-video-0" {
		t.Errorf("Expected fake-video-0, got %s", caps.DeviceID)
	}
	if caps.Label != "フェイクカメラ 1" {
		t.Errorf("Unexpected label: %s", caps.Label)
	}
	if !caps.HasZoom {
		t.Error("Expected zoom capability")
	}
	if caps.MinZoom != 1.0 || caps.MaxZoom != 8.0 {
		t.Errorf("Unexpected zoom range: [%v, %v]", caps.MinZoom, caps.MaxZoom)
	}

	// プローブ用ストリームはクローズ済み
	if provider.OpenStreams() != 0 {
		t.Errorf("Expected 0 open streams, got %d", provider.OpenStreams())
	}
}

func TestProbeCapabilities_UnknownDevice(t *testing.T) {
	ctx := context.Background()
	provider := platform.NewFakeProvider()

	manager := NewManager(provider)

	_, err := manager.ProbeCapabilities(ctx, "no-such-device")
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if code := platform.CodeOf(err); code != platform.CodeDevices {
		t.Errorf("Expected devices error code, got %s", code)
	}

	if provider.OpenStreams() != 0 {
		t.Errorf("Expected 0 open streams, got %d", provider.OpenStreams())
	}
}
