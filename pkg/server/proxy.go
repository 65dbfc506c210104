package server

import (
	"errors"

	"meshgate/pkg/log"
	"meshgate/pkg/models"
	"meshgate/pkg/proxy"

	"github.com/labstack/echo/v4"
)

// proxyRequest forwards to the service named in the path and streams the
// upstream response back as it arrives.
func (g *Server) proxyRequest(ctx echo.Context) error {
	name := ctx.Param("name")
	subPath := ctx.Param("*")

	resp, err := g.gateway.Forward(ctx.Request(), name, subPath)
	if err != nil {
		message := "Internal Server Error"
		var proxyErr *proxy.Error
		if errors.As(err, &proxyErr) {
			message = proxyErr.PublicMessage()
		}
		return ctx.JSON(proxy.StatusCode(err), models.ErrorResponse{Error: message})
	}
	defer func() {
		if closeErr := resp.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Str("service", name).Msg("Failed to close upstream body")
		}
	}()

	header := ctx.Response().Header()
	for key, values := range resp.Header {
		header[key] = values
	}
	ctx.Response().WriteHeader(resp.StatusCode)

	if _, err := resp.WriteTo(ctx.Response()); err != nil {
		// Status is already sent; all that is left is to cut the stream.
		log.Warn().Err(err).Str("service", name).Msg("Upstream stream interrupted")
	}
	return nil
}
