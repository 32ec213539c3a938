package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/earlink/internal/engine"
	"github.com/danmuck/earlink/internal/params"
	"github.com/danmuck/earlink/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.appeared).String(),
			"component": "earlink-api",
			"devices":   len(s.engine.Devices()),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/events", s.serveEvents)

	r.GET("/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"config": params.Entries()})
	})

	r.GET("/devices", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"devices": s.engine.Devices()})
	})
	r.GET("/devices/:id", func(c *gin.Context) {
		id := c.Param("id")
		for _, d := range s.engine.Devices() {
			if d.ID == id {
				c.JSON(http.StatusOK, d)
				return
			}
		}
		writeError(c, engine.ErrUnknownDevice)
	})
	r.DELETE("/devices/:id", func(c *gin.Context) {
		if err := s.engine.Disconnect(c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
	})
	r.GET("/devices/:id/battery", s.getBattery)
	r.GET("/devices/:id/info", s.getInfo)
	r.POST("/devices/:id/in-ear-detect/disable", s.disableInEarDetect)
	r.GET("/devices/:id/config/:name", s.getConfig)
	r.PUT("/devices/:id/config/:name", s.putConfig)
}

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
}

func (s *Server) getBattery(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()
	id := c.Param("id")
	battery, err := protocol.Do(ctx, s.engine, id, protocol.Battery())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"device":         id,
		"left":           battery.Left,
		"right":          battery.Right,
		"case":           battery.Case,
		"charging_flags": battery.ChargingFlags(),
	})
}

// DeviceInfo is the static description of a connected headset.
type DeviceInfo struct {
	Device         string                 `json:"device"`
	Model          protocol.VidPid        `json:"model"`
	Name           string                 `json:"name"`
	Firmware       string                 `json:"firmware"`
	Uboot          string                 `json:"uboot"`
	EqualizerModes []params.EqualizerMode `json:"equalizer_modes"`
	InEarGesture   bool                   `json:"in_ear_gesture"`
}

// ReadDeviceInfo queries model, firmware and bootloader versions of id.
func ReadDeviceInfo(ctx context.Context, r protocol.Requester, id string) (DeviceInfo, error) {
	model, err := protocol.Do(ctx, r, id, protocol.Model())
	if err != nil {
		return DeviceInfo{}, err
	}
	firmware, err := protocol.Do(ctx, r, id, protocol.FirmwareVersion())
	if err != nil {
		return DeviceInfo{}, err
	}
	uboot, err := protocol.Do(ctx, r, id, protocol.UbootVersion())
	if err != nil {
		return DeviceInfo{}, err
	}
	return DeviceInfo{
		Device:         id,
		Model:          model,
		Name:           params.ModelName(model),
		Firmware:       firmware,
		Uboot:          uboot,
		EqualizerModes: params.SupportedEqualizerModes(model),
		InEarGesture:   params.SupportsInEarGesture(model),
	}, nil
}

func (s *Server) getInfo(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()
	info, err := ReadDeviceInfo(ctx, s.engine, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) disableInEarDetect(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()
	id := c.Param("id")
	accepted, err := protocol.Do(ctx, s.engine, id, protocol.DisableInEarDetect())
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if !accepted {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"device": id, "accepted": accepted})
}

func (s *Server) getConfig(c *gin.Context) {
	entry, err := params.Lookup(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()
	value, err := entry.Get(ctx, s.engine, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"device": c.Param("id"),
		"id":     entry.ID,
		"name":   entry.Name,
		"value":  value,
	})
}

func (s *Server) putConfig(c *gin.Context) {
	entry, err := params.Lookup(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	raw, err := c.GetRawData()
	if err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON value"})
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()
	accepted, err := entry.Set(ctx, s.engine, c.Param("id"), raw)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if !accepted {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{
		"device":   c.Param("id"),
		"name":     entry.Name,
		"accepted": accepted,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnknownDevice), errors.Is(err, params.ErrUnknown):
		return http.StatusNotFound
	case errors.Is(err, params.ErrReadOnly):
		return http.StatusMethodNotAllowed
	case errors.Is(err, params.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, protocol.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, engine.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, engine.ErrDisconnected), errors.Is(err, engine.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
