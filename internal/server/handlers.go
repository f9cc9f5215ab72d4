package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"scanrig/internal/camera"
	"scanrig/internal/session"
	"scanrig/internal/snapshot"
)

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ToggleResponse はトグル操作の結果
type ToggleResponse struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type valueRequest struct {
	Value *int32 `json:"value" binding:"required"`
}

type pathRequest struct {
	Path string `json:"path" binding:"required"`
}

type zoomRequest struct {
	Delta float64 `json:"delta"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	c.JSON(status, ErrorResponse{
		Error:     code,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

// respondSessionError はセッションのエラーをステータスコードに対応付ける
func respondSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrUnknownMode):
		respondError(c, http.StatusNotFound, "mode_not_found", err)
	case errors.Is(err, camera.ErrDeviceNotFound):
		respondError(c, http.StatusNotFound, "camera_not_found", err)
	case errors.Is(err, session.ErrStopped):
		respondError(c, http.StatusConflict, "session_stopped", err)
	case errors.Is(err, camera.ErrControl):
		respondError(c, http.StatusBadGateway, "control_failed", err)
	default:
		respondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
}

// handleStatus はセッションの状態を返す
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.session.Status())
}

func (s *Server) handlePause(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"loop": s.session.TogglePause()})
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.session.Stop(); err != nil {
		respondSessionError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleToggleMode(c *gin.Context) {
	name := c.Param("name")
	active, err := s.session.Toggle(session.Identity(name))
	if err != nil {
		respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, ToggleResponse{Name: name, Active: active})
}

func (s *Server) handleToggleDetected(c *gin.Context) {
	c.JSON(http.StatusOK, ToggleResponse{Name: "detected", Active: s.session.ToggleDetected()})
}

// bindControl はパスのコントロール名と本文の値を読み取る
func bindControl(c *gin.Context) (camera.ControlID, int32, bool) {
	id, err := camera.ParseControl(c.Param("control"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "unknown_control", err)
		return 0, 0, false
	}
	var req valueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return 0, 0, false
	}
	return id, *req.Value, true
}

func (s *Server) handleSetDeviceControl(c *gin.Context) {
	id, value, ok := bindControl(c)
	if !ok {
		return
	}
	if err := s.session.SetDeviceControl(c.Param("id"), id, value); err != nil {
		respondSessionError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleBroadcastControl(c *gin.Context) {
	id, value, ok := bindControl(c)
	if !ok {
		return
	}
	if err := s.session.BroadcastControl(id, value); err != nil {
		respondSessionError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGenerateMesh(c *gin.Context) {
	if err := s.session.GenerateMesh(); err != nil {
		respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mesh_version": s.session.Status().MeshVersion})
}

func (s *Server) handleClearMesh(c *gin.Context) {
	s.session.ClearMesh()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSaveMesh(c *gin.Context) {
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := s.session.SaveMesh(req.Path); err != nil {
		respondSessionError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleLoadMesh(c *gin.Context) {
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := s.session.LoadMesh(req.Path); err != nil {
		respondSessionError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleZoom(c *gin.Context) {
	var req zoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	s.session.Zoom(req.Delta)
	c.Status(http.StatusNoContent)
}

// handleSnapshot は全カメラの最新フレームを並べたJPEGを返す
func (s *Server) handleSnapshot(c *gin.Context) {
	data, err := s.composer.ComposeJPEG(s.session.Frames().Frames)
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, "no_frames", err)
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

// deviceFrame は最新のフレームセットから指定デバイスのフレームを探す
func (s *Server) deviceFrame(deviceID string) (camera.Frame, uint64, bool) {
	fs := s.session.Frames()
	for _, f := range fs.Frames {
		if f.DeviceID == deviceID {
			return f, fs.Seq, true
		}
	}
	return camera.Frame{}, fs.Seq, false
}

// handleDeviceFrame は1台のカメラの最新フレームをJPEGで返す
func (s *Server) handleDeviceFrame(c *gin.Context) {
	f, _, ok := s.deviceFrame(c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, "frame_not_found", snapshot.ErrNoFrames)
		return
	}
	data, err := snapshot.EncodeJPEG(f, snapshot.DefaultQuality)
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, "no_frames", err)
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

// handleDeviceStream は新しいフレームセットが公開されるたびにMJPEGで配信する
func (s *Server) handleDeviceStream(c *gin.Context) {
	deviceID := c.Param("id")
	if _, _, ok := s.deviceFrame(deviceID); !ok {
		respondError(c, http.StatusNotFound, "frame_not_found", snapshot.ErrNoFrames)
		return
	}

	// レスポンスヘッダーを設定
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	writer := c.Writer
	clientGone := c.Request.Context().Done()
	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-clientGone:
			return
		case <-ticker.C:
		}

		f, seq, ok := s.deviceFrame(deviceID)
		if !ok {
			return
		}
		if seq == lastSeq {
			continue
		}
		lastSeq = seq

		data, err := snapshot.EncodeJPEG(f, snapshot.DefaultQuality)
		if err != nil {
			continue
		}
		if _, err := writer.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
			return
		}
		if _, err := writer.Write(data); err != nil {
			return
		}
		if _, err := writer.Write([]byte("\r\n")); err != nil {
			return
		}
		writer.Flush()
	}
}
