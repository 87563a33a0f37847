package Adhoc

import (
	"TryOnServer/logger"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	CameraInstance     = "camera"
	UploadOnlyInstance = "upload-only"
	TimeOutSeconds     = 5
)

type RegisterRequest struct {
	Id            string `json:"id"`
	IP            string `json:"ip"`
	Port          int    `json:"port"`
	HTTPPort      int    `json:"httpPort"`
	InstanceClass string `json:"instanceClass"`
	TimeStamp     int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

// Heartbeat announces this preview server to a registry at a fixed interval.
type Heartbeat struct {
	ID            string
	RegServer     string
	IP            string
	RPCPort       int
	HTTPPort      int
	InstanceClass string
	Interval      time.Duration

	client *resty.Client
}

func NewHeartbeat(regHost string, regPort int, ip string, rpcPort, httpPort int, instanceClass string) *Heartbeat {
	return &Heartbeat{
		ID:            uuid.NewString(),
		RegServer:     fmt.Sprintf("http://%s:%d", regHost, regPort),
		IP:            ip,
		RPCPort:       rpcPort,
		HTTPPort:      httpPort,
		InstanceClass: instanceClass,
		Interval:      TimeOutSeconds * time.Second,
		client:        resty.New().SetTimeout(TimeOutSeconds * time.Second),
	}
}

// SendOnce posts a single registration. The registry must acknowledge it.
func (h *Heartbeat) SendOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("register panic: %v", r)
		}
	}()
	var respBody RegisterResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(RegisterRequest{
			Id:            h.ID,
			IP:            h.IP,
			Port:          h.RPCPort,
			HTTPPort:      h.HTTPPort,
			InstanceClass: h.InstanceClass,
			TimeStamp:     time.Now().Unix(),
		}).
		SetResult(&respBody).
		Post(h.RegServer + "/api/register")
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("server returned error: %s, body: %s", resp.Status(), resp.String())
	}
	if !respBody.Success {
		return fmt.Errorf("registration of %s rejected", h.ID)
	}
	return nil
}

// SendAliveMessage registers immediately, then on every interval until ctx ends.
func (h *Heartbeat) SendAliveMessage(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	log := logger.Named("adhoc").With(zap.String("id", h.ID), zap.String("registry", h.RegServer))
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()
	send := func() {
		if err := h.SendOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error("heartbeat failed", zap.Error(err))
		}
	}
	send()
	for {
		select {
		case <-ctx.Done():
			log.Info("heartbeat stopped")
			return
		case <-ticker.C:
			send()
		}
	}
}

// GetOutboundIP finds the local address used for outbound traffic. No packet
// is sent; dialing UDP only consults the routing table.
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
