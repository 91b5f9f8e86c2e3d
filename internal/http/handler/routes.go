package handler

import (
	"database/sql"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"

	"wopihost/docs"
	"wopihost/internal/service"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// db may be nil when metadata lives in memory.
func RegisterRoutes(app *fiber.App, db *sql.DB, docSvc service.DocumentService, wopiSvc service.WopiService, log *slog.Logger) {
	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		docs.SwaggerInfo.Host = c.Hostname()
		docs.SwaggerInfo.Schemes = []string{scheme(c)}
		return swagger.HandlerDefault(c)
	})

	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	// Host-side file management for the authenticated caller
	files := app.Group("/api/files", RequireUser())
	files.Get("/", ListDocuments(docSvc, log))
	files.Post("/", UploadDocument(docSvc, log))
	files.Get("/:id", GetDocument(docSvc, log))
	files.Delete("/:id", DeleteDocument(docSvc, log))
	files.Get("/:id/launch", LaunchDocument(docSvc, log))

	// WOPI protocol surface called by the editor
	dispatch := Wopi(wopiSvc)
	tokenFilter := TokenFilter(wopiSvc, log)
	for _, p := range []string{"/wopi/files/:id", "/wopi/files/:id/contents"} {
		app.Get(p, tokenFilter, dispatch)
		app.Post(p, tokenFilter, dispatch)
	}
	folderFilter := FolderTokenFilter()
	for _, p := range []string{"/wopi/folders/:id", "/wopi/folders/:id/children", "/wopi/folders/:id/contents"} {
		app.Get(p, folderFilter, dispatch)
		app.Post(p, folderFilter, dispatch)
	}
}
