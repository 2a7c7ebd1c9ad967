// Package server hosts the HTTP surface of the hosted store: a liveness
// probe and the admin-gated ops endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/moshimoshi/fukushu/internal/profile"
	apiv1 "github.com/moshimoshi/fukushu/server/router/api/v1"
	"github.com/moshimoshi/fukushu/store"
)

type Server struct {
	Secret  string
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	s := &Server{
		Secret:  profile.Secret,
		Profile: profile,
		Store:   store,
	}

	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true

	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.CORS())

	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})

	apiV1Service := apiv1.NewAPIV1Service(s.Secret, profile, store)
	apiV1Service.Register(echoServer)

	s.echoServer = echoServer
	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	return s.echoServer.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server",
			slog.String("error", err.Error()))
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store",
			slog.String("error", err.Error()))
	}
	slog.Info("fukushu stopped properly")
}
