package server

import (
	"errors"
	"fmt"
	"net/http"

	"meshgate/pkg/catalog"
	"meshgate/pkg/log"
	"meshgate/pkg/models"

	"github.com/labstack/echo/v4"
)

func (g *Server) registerService(ctx echo.Context) error {
	var rec models.ServiceRecord
	if err := ctx.Bind(&rec); err != nil {
		return ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
	}

	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
	}

	g.registry.Register(rec)
	if g.catalog != nil {
		if err := g.catalog.Save(rec); err != nil {
			log.Error().Err(err).Str("service", rec.Name).Msg("Failed to persist registration")
		}
	}

	stored, _ := g.registry.Get(rec.Name)
	return ctx.JSON(http.StatusCreated, models.RegisterResponse{
		Success: true,
		Message: fmt.Sprintf("Service '%s' registered successfully", rec.Name),
		Service: stored,
	})
}

func (g *Server) unregisterService(ctx echo.Context) error {
	name := ctx.Param("name")
	if !g.registry.Unregister(name) {
		return ctx.JSON(http.StatusNotFound, models.ErrorResponse{Error: fmt.Sprintf("Service '%s' not found", name)})
	}

	if g.catalog != nil {
		if err := g.catalog.Delete(name); err != nil && !errors.Is(err, catalog.ErrServiceNotFound) {
			log.Error().Err(err).Str("service", name).Msg("Failed to remove registration from catalog")
		}
	}

	return ctx.JSON(http.StatusOK, models.UnregisterResponse{
		Success: true,
		Message: fmt.Sprintf("Service '%s' unregistered successfully", name),
	})
}

func (g *Server) listServices(ctx echo.Context) error {
	services := g.registry.ListAll()
	healthy := 0
	for _, rec := range services {
		if rec.Status == models.StatusHealthy {
			healthy++
		}
	}
	return ctx.JSON(http.StatusOK, models.ServiceList{
		Services:     services,
		TotalCount:   len(services),
		HealthyCount: healthy,
	})
}

func (g *Server) getService(ctx echo.Context) error {
	name := ctx.Param("name")
	rec, exists := g.registry.Get(name)
	if !exists {
		return ctx.JSON(http.StatusNotFound, models.ErrorResponse{Error: fmt.Sprintf("Service '%s' not found", name)})
	}
	return ctx.JSON(http.StatusOK, rec)
}
