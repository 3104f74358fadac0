package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type HealthHandler struct {
	storageBackend string
}

func NewHealthHandler(storageBackend string) *HealthHandler {
	return &HealthHandler{
		storageBackend: storageBackend,
	}
}

func (h *HealthHandler) CheckHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "Server is running",
		"storage": h.storageBackend,
		"time":    time.Now().Format(time.RFC3339),
	})
}
