package postgres_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/comprobantes-sri/internal/infrastructure/postgres"
)

func TestMigrateURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/db?sslmode=disable": "pgx5://u:p@localhost:5432/db?sslmode=disable",
		"postgresql://u:p@db/x":                            "pgx5://u:p@db/x",
		"pgx5://ya/convertida":                             "pgx5://ya/convertida",
	}
	for in, want := range cases {
		assert.Equal(t, want, postgres.MigrateURL(in), in)
	}
}
