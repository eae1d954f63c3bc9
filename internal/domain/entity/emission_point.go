package entity

import (
	"time"

	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

// EmissionPoint es un punto de emisión con un secuencial independiente por ambiente.
// Los contadores guardan el próximo número a usar y solo los avanza el commit del
// SequenceAllocator; el repositorio no expone otra forma de escribirlos.
type EmissionPoint struct {
	ID                string
	EstablishmentID   string
	CompanyID         string
	EstablishmentCode string // 3 dígitos
	Code              string // 3 dígitos
	SeqTest           int64
	SeqProduction     int64
	UpdatedAt         time.Time
}

// NextSequence devuelve el próximo secuencial para el ambiente indicado.
func (p *EmissionPoint) NextSequence(env sri.Environment) int64 {
	if env == sri.EnvironmentProduction {
		return p.SeqProduction
	}
	return p.SeqTest
}
