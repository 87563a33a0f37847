package web

import (
	iface "TryOnServer/interface"
	"TryOnServer/logger"
	"TryOnServer/session"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	MaxUploadBytes = 20 << 20
	writeWait      = 2 * time.Second
	pongWait       = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type paramsBody struct {
	Scale          *float64 `json:"scale"`
	VerticalOffset *float64 `json:"verticalOffset"`
}

// StatusFor maps a session error onto the HTTP status the client sees.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, iface.ErrInvalidImage):
		return http.StatusBadRequest
	case errors.Is(err, iface.ErrUnknownGarment):
		return http.StatusNotFound
	case errors.Is(err, iface.ErrDeviceAccess), errors.Is(err, iface.ErrModelInit):
		return http.StatusServiceUnavailable
	case errors.Is(err, iface.ErrNoSource):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	c.JSON(StatusFor(err), gin.H{"error": err.Error()})
}

func NewRouter(s *session.Session) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog())
	r.MaxMultipartMemory = MaxUploadBytes

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": s.State()})
	})
	r.POST("/api/capture/start", func(c *gin.Context) {
		if err := s.StartCapture(); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": s.State()})
	})
	r.POST("/api/capture/stop", func(c *gin.Context) {
		s.StopCapture()
		c.JSON(http.StatusOK, gin.H{"data": s.State()})
	})
	r.POST("/api/upload", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadBytes+1<<20)
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
			return
		}
		if file.Size > MaxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image larger than 20 MiB"})
			return
		}
		f, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.LoadImage(data); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": s.State()})
	})
	r.GET("/api/garments", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"data":     s.Garments.Catalog(),
			"selected": s.Garments.Snapshot().GarmentID,
		})
	})
	r.POST("/api/garments/:id/select", func(c *gin.Context) {
		if err := s.Garments.SelectGarment(c.Param("id")); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": s.State()})
	})
	r.PUT("/api/params", func(c *gin.Context) {
		var body paramsBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if body.Scale != nil {
			s.Garments.SetScale(*body.Scale)
		}
		if body.VerticalOffset != nil {
			s.Garments.SetVerticalOffset(*body.VerticalOffset)
		}
		c.JSON(http.StatusOK, gin.H{"data": s.State()})
	})
	r.GET("/api/frame", func(c *gin.Context) {
		data, err := s.Frame()
		if err != nil {
			fail(c, err)
			return
		}
		if data == nil {
			c.Status(http.StatusNoContent)
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "image/jpeg", data)
	})
	r.GET("/ws/preview", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		streamPreview(s, conn)
	})
	return r
}

// streamPreview pushes every composited surface to one viewer until it
// disconnects. A slow viewer only ever sees the newest surface.
func streamPreview(s *session.Session, conn *websocket.Conn) {
	id := uuid.New().String()
	log := logger.Named("web").With(zap.String("viewer", id))
	frames := s.Subscribe(id)
	log.Info("preview viewer connected")

	var closeOnce sync.Once
	done := make(chan struct{})
	release := func() {
		closeOnce.Do(func() {
			s.Unsubscribe(id)
			close(done)
		})
	}
	defer func() {
		release()
		_ = conn.Close()
		log.Info("preview viewer disconnected")
	}()

	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer release()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		}
	}()

	if data := s.Latest(); data != nil {
		if err := write(conn, data); err != nil {
			return
		}
	}
	ping := time.NewTicker(pongWait / 2)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case data, ok := <-frames:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "preview closed"), time.Now().Add(writeWait))
				return
			}
			if err := write(conn, data); err != nil {
				log.Debug("preview write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func write(conn *websocket.Conn, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

func requestLog() gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
