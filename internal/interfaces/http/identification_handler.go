package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/comprobantes-sri/internal/application/dto"
	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

// ValidateIdentification godoc
// @Summary      Validar cédula o RUC
// @Description  Sin kind se infiere por longitud: 10 dígitos cédula, 13 RUC.
// @Tags         sri
// @Accept       json
// @Produce      json
// @Param        body  body  dto.ValidateIdentificationRequest  true  "Número a validar"
// @Success      200   {object}  dto.ValidateIdentificationResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Router       /api/sri/identifications/validate [post]
func ValidateIdentification(c *fiber.Ctx) error {
	var in dto.ValidateIdentificationRequest
	if ok, err := bindAndValidate(c, &in); !ok {
		return err
	}
	kind := in.Kind
	if kind == "" {
		kind = "cedula"
		if len(in.Value) == 13 {
			kind = "ruc"
		}
	}
	var err error
	if kind == "ruc" {
		err = sri.IsRuc(in.Value)
	} else {
		err = sri.IsCedula(in.Value)
	}
	out := dto.ValidateIdentificationResponse{
		Value:  in.Value,
		Kind:   kind,
		Valid:  err == nil,
		IDType: sri.IdentificationTypeFor(in.Value),
	}
	var verr *sri.ValidationError
	if errors.As(err, &verr) {
		out.Reason = verr.Reason.Error()
	} else if err != nil {
		out.Reason = err.Error()
	}
	return c.JSON(out)
}
