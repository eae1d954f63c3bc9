// token emite un JWT de acceso para un usuario de un emisor registrado.
//
// Uso: token -ruc 1791321634001 -user <id> [-role emisor]
//
// Sin -ruc emite un token de arranque (rol admin, sin empresa) que solo sirve para
// registrar el primer emisor con POST /api/companies.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jhoicas/comprobantes-sri/internal/infrastructure/postgres"
	"github.com/jhoicas/comprobantes-sri/pkg/config"
	"github.com/jhoicas/comprobantes-sri/pkg/jwt"
	"github.com/jhoicas/comprobantes-sri/pkg/logger"
)

func main() {
	ruc := flag.String("ruc", "", "RUC del emisor")
	user := flag.String("user", "", "identificador del usuario")
	role := flag.String("role", jwt.RoleEmisor, "rol: admin|emisor|consulta")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cargar configuración: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})

	if *user == "" {
		fmt.Fprintln(os.Stderr, "-user es obligatorio")
		os.Exit(2)
	}

	tokens, err := jwt.NewIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, time.Duration(cfg.JWT.Expiration)*time.Minute)
	if err != nil {
		log.Fatal().Err(err).Msg("configuración JWT")
	}

	var companyID string
	if *ruc == "" {
		*role = jwt.RoleAdmin
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pool, err := postgres.NewPool(ctx, cfg.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("conexión a PostgreSQL")
		}
		defer pool.Close()

		company, err := postgres.NewCompanyRepository(pool).GetByRUC(ctx, *ruc)
		if err != nil {
			log.Fatal().Err(err).Str("ruc", *ruc).Msg("buscar emisor")
		}
		if company == nil {
			log.Fatal().Str("ruc", *ruc).Msg("emisor no registrado")
		}
		companyID = company.ID
	}

	tok, err := tokens.Issue(*user, companyID, *ruc, *role)
	if err != nil {
		log.Fatal().Err(err).Msg("emitir token")
	}
	log.Info().Str("user", *user).Str("ruc", *ruc).Str("role", *role).
		Int("expira_min", cfg.JWT.Expiration).Msg("token emitido")
	fmt.Println(tok)
}
