package http

import (
	"context"
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/comprobantes-sri/internal/application/dto"
	"github.com/jhoicas/comprobantes-sri/internal/domain/entity"
	"github.com/jhoicas/comprobantes-sri/pkg/jwt"
)

// Locals keys para UserID, CompanyID, RUC y Role en Fiber.
const (
	LocalUserID    = "user_id"
	LocalCompanyID = "company_id"
	LocalRUC       = "ruc"
	LocalRole      = "role"
)

// Roles reconocidos en el claim "role".
const (
	RoleAdmin    = jwt.RoleAdmin
	RoleEmisor   = jwt.RoleEmisor
	RoleConsulta = jwt.RoleConsulta
)

// TenantResolver resuelve la empresa del token; repository.CompanyRepository lo cumple.
type TenantResolver interface {
	GetByID(ctx context.Context, id string) (*entity.Company, error)
}

// AuthMiddleware valida el Bearer Token JWT y extrae UserID, CompanyID, RUC y Role
// a c.Locals. Si el token trae empresa, su RUC debe ser el registrado para ella:
// una empresa inexistente o con otro RUC responde 403 TENANT_MISMATCH.
func AuthMiddleware(tokens *jwt.Issuer, tenants TenantResolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "MISSING_TOKEN", Message: "Authorization header requerido"})
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "INVALID_TOKEN", Message: "formato: Bearer <token>"})
		}
		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "MISSING_TOKEN", Message: "token vacío"})
		}
		claims, err := tokens.Parse(tokenString)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "INVALID_TOKEN", Message: "token inválido o expirado"})
		}
		if claims.CompanyID != "" && tenants != nil {
			company, err := tenants.GetByID(c.UserContext(), claims.CompanyID)
			if err != nil {
				return writeError(c, err)
			}
			if company == nil || company.RUC != claims.RUC {
				return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "TENANT_MISMATCH", Message: "el token no corresponde al emisor registrado"})
			}
		}
		c.Locals(LocalUserID, claims.UserID())
		c.Locals(LocalCompanyID, claims.CompanyID)
		c.Locals(LocalRUC, claims.RUC)
		c.Locals(LocalRole, claims.Role)
		return c.Next()
	}
}

// RequireRole deja pasar solo si el rol del token está entre roles. Debe ir
// después de AuthMiddleware. Token sin rol: 401 MISSING_ROLE; rol no permitido: 403.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role := GetRole(c)
		if role == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "MISSING_ROLE", Message: "el token no incluye rol"})
		}
		if !slices.Contains(roles, role) {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "rol sin permiso para esta operación"})
		}
		return c.Next()
	}
}

// GetUserID devuelve el UserID del contexto (después del middleware de auth).
func GetUserID(c *fiber.Ctx) string { return localString(c, LocalUserID) }

// GetCompanyID devuelve el CompanyID del contexto (después del middleware de auth).
func GetCompanyID(c *fiber.Ctx) string { return localString(c, LocalCompanyID) }

// GetRUC devuelve el RUC del emisor del token.
func GetRUC(c *fiber.Ctx) string { return localString(c, LocalRUC) }

// GetRole devuelve el rol del contexto (después del middleware de auth).
func GetRole(c *fiber.Ctx) string { return localString(c, LocalRole) }

func localString(c *fiber.Ctx, key string) string {
	s, _ := c.Locals(key).(string)
	return s
}
