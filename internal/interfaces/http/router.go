package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/jhoicas/comprobantes-sri/pkg/jwt"
)

// RouterDeps dependencias para el router. Metrics y Health pueden ser nil.
type RouterDeps struct {
	CompanyUC   CompanyService
	Drafts      DraftService
	Lifecycle   LifecycleService
	Tokens      *jwt.Issuer
	Tenants     TenantResolver
	Metrics     http.Handler
	MetricsPath string // por defecto /metrics
	Health      func() fiber.Map
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		body := fiber.Map{"status": "ok"}
		if deps.Health != nil {
			for k, v := range deps.Health() {
				body[k] = v
			}
		}
		return c.JSON(body)
	})
	if deps.Metrics != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		app.Get(path, adaptor.HTTPHandler(deps.Metrics))
	}

	api := app.Group("/api")

	// Validación de identificaciones (público)
	api.Post("/sri/identifications/validate", ValidateIdentification)

	// Rutas protegidas (requieren Bearer Token)
	protected := api.Group("/", AuthMiddleware(deps.Tokens, deps.Tenants))
	anyRole := RequireRole(RoleAdmin, RoleEmisor, RoleConsulta)
	writers := RequireRole(RoleAdmin, RoleEmisor)
	admins := RequireRole(RoleAdmin)

	companyHandler := NewCompanyHandler(deps.CompanyUC)
	protected.Post("/companies", admins, companyHandler.Create)
	company := protected.Group("/company")
	company.Get("/", anyRole, companyHandler.Me)
	company.Put("/", admins, companyHandler.Update)
	company.Post("/establishments", admins, companyHandler.CreateEstablishment)
	company.Post("/emission-points", admins, companyHandler.CreateEmissionPoint)
	company.Get("/emission-points", anyRole, companyHandler.ListEmissionPoints)

	h := NewComprobanteHandler(deps.Drafts, deps.Lifecycle)
	comprobantes := protected.Group("/comprobantes")
	comprobantes.Post("/", writers, h.Create)
	comprobantes.Get("/:id", anyRole, h.GetByID)
	comprobantes.Put("/:id", writers, h.Update)
	comprobantes.Delete("/:id", writers, h.Delete)
	comprobantes.Get("/:id/status", anyRole, h.Status)
	comprobantes.Post("/:id/accept", writers, h.Accept)
	comprobantes.Post("/:id/send", writers, h.Send)
	comprobantes.Post("/:id/validate", writers, h.Validate)
	comprobantes.Post("/:id/check-annulled", writers, h.CheckAnnulled)
}
