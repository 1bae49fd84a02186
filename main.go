package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"executor/config"
	"executor/handler"
	"executor/hub"
	"executor/k8s"
	"executor/reaper"
	"executor/runtime"
	"executor/storage"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	kube, err := k8s.NewClient(cfg.Namespace)
	if err != nil {
		log.Fatalf("k8s: %v", err)
	}

	s3Client, err := storage.NewClient(storage.Config{
		Endpoint:  cfg.S3Endpoint,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		log.Fatalf("s3: %v", err)
	}
	log.Println("s3: connected to " + cfg.S3Endpoint)

	var allowedOrigins []string
	if cfg.AllowedOrigins != "" {
		for _, o := range strings.Split(cfg.AllowedOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}

	ws := hub.New(allowedOrigins)
	go ws.Run()

	manager := &runtime.Manager{
		Kube:   kube,
		Pods:   kube,
		Store:  s3Client,
		Events: ws,
		S3: k8s.S3Env{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		},
		Hostname:       cfg.Hostname,
		SelfEndpoint:   "http://127.0.0.1:" + cfg.Port,
		ExecutorSecret: cfg.ExecutorSecret,
	}

	identity := fmt.Sprintf("%s-%d", cfg.Hostname, os.Getpid())
	maintenance := reaper.New(
		kube,
		identity,
		time.Duration(cfg.MaintenanceInterval)*time.Second,
		time.Duration(cfg.InactiveThreshold)*time.Second,
	)
	maintenance.Events = ws
	maintenance.Start()

	h := handler.New(manager, ws, cfg, s3Client)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Accept", "x-executor-response-format"},
		AllowCredentials: false,
	}))
	r.Mount("/", h.Routes())

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("executor %s listening on :%s (namespace %s)", Version, cfg.Port, cfg.Namespace)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	maintenance.Stop(stopCtx)
	stopCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
