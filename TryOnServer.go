package main

import (
	adhoc "TryOnServer/Adhoc"
	"TryOnServer/config"
	"TryOnServer/engine"
	backend "TryOnServer/gRPC"
	"TryOnServer/garment"
	"TryOnServer/logger"
	"TryOnServer/monitor"
	"TryOnServer/session"
	"TryOnServer/source"
	"TryOnServer/web"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the yaml config")
	flag.Parse()

	cfg, notes, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Failed to load config:", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LogMode); err != nil {
		fmt.Println("Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Log()
	for _, note := range notes {
		log.Warn("config default applied", zap.String("note", note))
	}
	fmt.Println(strings.Repeat("#", 64))
	fmt.Println(" gRPC    Port:", cfg.RPCPort)
	fmt.Println(" HTTP    Port:", cfg.HTTPPort)
	fmt.Println(" Metrics Port:", cfg.MetricsPort)
	fmt.Println(" Keypoints   :", cfg.Keypoint.Backend, cfg.Keypoint.Address)
	fmt.Println(strings.Repeat("#", 64))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	go monitor.StartMon(cfg.MetricsPort, ctx)

	kp, err := engine.NewBackend(cfg.Keypoint)
	if err != nil {
		log.Fatal("keypoint backend", zap.Error(err))
	}
	garments := garment.NewRegistry()
	if err := garments.LoadCatalog(cfg.Garments); err != nil {
		log.Fatal("garment catalog", zap.Error(err))
	}
	sess := session.New(
		source.NewManager(cfg.Camera, cfg.Preview.DisplayWidth, nil),
		garments,
		engine.NewEstimator(kp),
		cfg.Preview.FrameInterval(),
		cfg.Preview.JPEGQuality,
	)
	defer sess.Close()

	instanceClass := adhoc.CameraInstance
	initCtx, initCancel := context.WithTimeout(ctx, cfg.Keypoint.Timeout()+time.Second)
	if err := sess.Init(initCtx); err != nil {
		// the server keeps running so uploads and status stay reachable
		log.Error("pose model unavailable, live capture disabled", zap.Error(err))
		instanceClass = adhoc.UploadOnlyInstance
	}
	initCancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sess.Run(ctx)
	}()

	server, err := backend.StartGRPCServer(cfg.RPCPort, sess)
	if err != nil {
		log.Fatal("grpc server", zap.Error(err))
	}

	if strings.EqualFold(cfg.LogMode, "development") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: web.NewRouter(sess),
	}
	go func() {
		log.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", zap.Error(err))
			cancel()
		}
	}()

	if cfg.UseRegServer {
		ip, err := adhoc.GetOutboundIP()
		if err != nil {
			log.Warn("outbound ip lookup failed, registering loopback", zap.Error(err))
			ip = "127.0.0.1"
		}
		hb := adhoc.NewHeartbeat(cfg.RegServerHost, cfg.RegServerPort, ip, cfg.RPCPort, cfg.HTTPPort, instanceClass)
		wg.Add(1)
		go hb.SendAliveMessage(ctx, &wg)
	} else {
		log.Info("UseRegServer is set to false, skipping registration")
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-signals:
		log.Info("signal received", zap.String("signal", sig.String()))
	case <-backend.CloseChannel:
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	server.GracefulStop()
	wg.Wait()
	log.Info("Safely exited")
}
