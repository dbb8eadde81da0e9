package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
)

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	if s.config.Log.Development {
		s.app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(s.config.Security.AllowOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))

	s.app.Get("/api/health", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	s.app.Post("/api/auth/login", s.handleLogin)

	// Routes registered before the auth group stay public.
	if dir := s.config.Server.StaticDir; dir != "" {
		s.app.Static("/", dir)
	} else {
		s.app.Get("/", func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
			return c.SendString(`<!DOCTYPE html>
<html>
<head><title>AutoDocOrganizer</title></head>
<body style="font-family: sans-serif; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>AutoDocOrganizer</h1>
<p>No web UI configured. Set <code>server.static_dir</code> to serve one.</p>
<p>The archive API is available at <code>/upload</code>, <code>/list</code> and <code>/search</code>.</p>
</body>
</html>`)
		})
	}

	protected := s.app.Group("", s.authMiddleware())

	protected.Get("/api/metrics", s.handleMetricsJSON)

	protected.Post("/upload", s.handleUpload)
	protected.Get("/list", s.handleList)
	protected.Get("/search", s.handleSearch)
	protected.Post("/delete", s.handleDeleteFile)
	protected.Post("/delete_folder", s.handleDeleteFolder)
	protected.Post("/delete_originals", s.handleDeleteOriginals)
	protected.Get("/download", s.handleDownload)
	protected.Get("/force_download", s.handleForceDownload)
	protected.Get("/translate", s.handleTranslate)
	protected.Get("/explain", s.handleExplain)
	protected.Get("/history", s.handleHistory)

	protected.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	protected.Get("/ws", websocket.New(s.handleWebSocket))
}
