package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"hitomi/internal/capture"
	"hitomi/internal/device"
	"hitomi/internal/platform"
	"hitomi/internal/session"
)

// ErrorResponse はエラー応答のスキーマ
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse はヘルスチェック応答のスキーマ
type HealthResponse struct {
	Status        string    `json:"status"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	Timestamp     time.Time `json:"timestamp"`
}

// StartRequest はセッション開始要求のスキーマ
type StartRequest struct {
	DeviceID    string                `json:"device_id,omitempty"`
	Resolutions []platform.Resolution `json:"resolutions,omitempty"`
	Mirror      *bool                 `json:"mirror,omitempty"`
}

// CaptureRequest はキャプチャ要求のスキーマ
type CaptureRequest struct {
	Scale         float64             `json:"scale,omitempty"`
	Mirror        *bool               `json:"mirror,omitempty"`
	Crop          *capture.CropRegion `json:"crop,omitempty"`
	ImageType     string              `json:"image_type,omitempty"`
	Quality       float64             `json:"quality,omitempty"`
	IncludeBase64 bool                `json:"include_base64,omitempty"`
}

// ZoomRequest はズーム設定要求のスキーマ
type ZoomRequest struct {
	Zoom float64 `json:"zoom"`
}

// TorchRequest はトーチ設定要求のスキーマ
type TorchRequest struct {
	Enabled bool `json:"enabled"`
}

// FocusRequest はフォーカス設定要求のスキーマ
type FocusRequest struct {
	Mode platform.FocusMode `json:"mode"`
}

// handleHealth はヘルスチェックエンドポイント
// ホストのCPU・メモリ使用率も合わせて報告する
func (s *Server) handleHealth(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		response.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		response.MemoryPercent = vm.UsedPercent
	}

	c.JSON(http.StatusOK, response)
}

// handleState はセッション状態のスナップショットを返す
func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.GetState())
}

// handleSessionStart はセッションを開始する
func (s *Server) handleSessionStart(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, platform.CodeInvalidConfig, "リクエストの解析に失敗しました")
			return
		}
	}

	cfg := session.Config{
		DeviceID:     req.DeviceID,
		Resolutions:  req.Resolutions,
		EnableMirror: req.Mirror,
	}

	if err := s.controller.Start(c.Request.Context(), cfg); err != nil {
		writeMediaError(c, err)
		return
	}

	c.JSON(http.StatusOK, s.controller.GetState())
}

// handleSessionStop はセッションを停止する
func (s *Server) handleSessionStop(c *gin.Context) {
	s.controller.Stop(c.Request.Context())
	c.JSON(http.StatusOK, s.controller.GetState())
}

// handleCapture はライブフレームをキャプチャして画像を返す
func (s *Server) handleCapture(c *gin.Context) {
	var req CaptureRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, platform.CodeInvalidConfig, "リクエストの解析に失敗しました")
			return
		}
	}

	result, err := s.controller.CaptureImage(c.Request.Context(), capture.Request{
		Scale:         req.Scale,
		Mirror:        req.Mirror,
		Crop:          req.Crop,
		ImageType:     req.ImageType,
		Quality:       req.Quality,
		IncludeBase64: req.IncludeBase64,
	})
	if err != nil {
		writeMediaError(c, err)
		return
	}

	if req.IncludeBase64 {
		c.JSON(http.StatusOK, result)
		return
	}

	c.Data(http.StatusOK, result.MimeType, result.Blob)
}

// handleDevices は映像入力デバイスの一覧を返す
func (s *Server) handleDevices(c *gin.Context) {
	devices, err := s.controller.ListVideoDevices(c.Request.Context())
	if err != nil {
		writeMediaError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// handleCapabilities はデバイスの能力プローブ結果を返す
func (s *Server) handleCapabilities(c *gin.Context) {
	caps, err := s.controller.ProbeCapabilities(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeMediaError(c, err)
		return
	}

	c.JSON(http.StatusOK, caps)
}

// handlePermissions は権限状態を返す
func (s *Server) handlePermissions(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.CheckPermissions(c.Request.Context()))
}

// handlePermissionsRequest は権限プロンプトを発火する
func (s *Server) handlePermissionsRequest(c *gin.Context) {
	var opts device.RequestOptions
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			writeError(c, http.StatusBadRequest, platform.CodeInvalidConfig, "リクエストの解析に失敗しました")
			return
		}
	}

	c.JSON(http.StatusOK, s.controller.RequestPermissions(c.Request.Context(), opts))
}

// handleZoom はズームを設定する
func (s *Server) handleZoom(c *gin.Context) {
	var req ZoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, platform.CodeInvalidConfig, "リクエストの解析に失敗しました")
		return
	}

	if err := s.controller.SetZoom(c.Request.Context(), req.Zoom); err != nil {
		writeMediaError(c, err)
		return
	}

	c.JSON(http.StatusOK, s.controller.GetState())
}

// handleTorch はトーチを設定する
func (s *Server) handleTorch(c *gin.Context) {
	var req TorchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, platform.CodeInvalidConfig, "リクエストの解析に失敗しました")
		return
	}

	if err := s.controller.SetTorch(c.Request.Context(), req.Enabled); err != nil {
		writeMediaError(c, err)
		return
	}

	c.JSON(http.StatusOK, s.controller.GetState())
}

// handleFocus はフォーカスモードを設定する
func (s *Server) handleFocus(c *gin.Context) {
	var req FocusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, platform.CodeInvalidConfig, "リクエストの解析に失敗しました")
		return
	}

	if err := s.controller.SetFocusMode(c.Request.Context(), req.Mode); err != nil {
		writeMediaError(c, err)
		return
	}

	c.JSON(http.StatusOK, s.controller.GetState())
}

// writeError はエラー応答を書き込む
func writeError(c *gin.Context, status int, code platform.Code, message string) {
	c.JSON(status, ErrorResponse{
		Error:     string(code),
		Message:   message,
		Timestamp: time.Now(),
	})
}

// writeMediaError はエラー分類に応じたHTTPステータスで応答する
func writeMediaError(c *gin.Context, err error) {
	code := platform.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case platform.CodePermissionDenied:
		status = http.StatusForbidden
	case platform.CodeDeviceNotFound:
		status = http.StatusNotFound
	case platform.CodeDeviceBusy:
		status = http.StatusConflict
	case platform.CodeOverconstrained, platform.CodeConstraint, platform.CodeInvalidConfig:
		status = http.StatusBadRequest
	case platform.CodeVideoSinkNotSet:
		status = http.StatusServiceUnavailable
	}

	writeError(c, status, code, err.Error())
}
