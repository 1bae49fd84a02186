package handler

import (
	"executor/config"
	"executor/hub"
	"executor/runtime"
	"executor/storage"
)

type Handler struct {
	manager *runtime.Manager
	ws      *hub.Hub
	cfg     *config.Config
	s3      *storage.Client
}

func New(manager *runtime.Manager, ws *hub.Hub, cfg *config.Config, s3 *storage.Client) *Handler {
	return &Handler{
		manager: manager,
		ws:      ws,
		cfg:     cfg,
		s3:      s3,
	}
}
