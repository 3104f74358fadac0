package main

import (
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"agrilink/pkg/config"
)

// The gateway fronts the public API: it forwards /api/auth traffic to
// the account service and everything else under /api to the messaging
// API, answering 503 itself when a backend is unreachable.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	authURL, err := url.Parse(cfg.AuthServiceURL)
	if err != nil {
		log.Fatalf("Invalid AUTH_SERVICE_URL: %v", err)
	}
	apiURL, err := url.Parse(cfg.APIServiceURL)
	if err != nil {
		log.Fatalf("Invalid API_SERVICE_URL: %v", err)
	}

	e := echo.New()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "Gateway is running",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	unavailable := func(name string) func(c echo.Context, err error) error {
		return func(c echo.Context, err error) error {
			log.Printf("Gateway: %s unreachable: %v", name, err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"error": name + " is temporarily unavailable",
			})
		}
	}

	authGroup := e.Group("/api/auth")
	authGroup.Use(middleware.ProxyWithConfig(middleware.ProxyConfig{
		Balancer: middleware.NewRoundRobinBalancer([]*middleware.ProxyTarget{
			{URL: authURL},
		}),
		Rewrite: map[string]string{
			"/api/auth/*": "/auth/$1",
		},
		ErrorHandler: unavailable("auth service"),
	}))

	apiGroup := e.Group("/api")
	apiGroup.Use(middleware.ProxyWithConfig(middleware.ProxyConfig{
		Balancer: middleware.NewRoundRobinBalancer([]*middleware.ProxyTarget{
			{URL: apiURL},
		}),
		Rewrite: map[string]string{
			"/api/*": "/$1",
		},
		ErrorHandler: unavailable("messaging service"),
	}))

	log.Printf("Starting gateway on port %s...", cfg.GatewayPort)
	e.Logger.Fatal(e.Start(":" + cfg.GatewayPort))
}
