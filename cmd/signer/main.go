// signer es el daemon de firma XAdES-BES: atiende la cola Redis de sign,
// add_cert, del_cert y has_cert con los certificados de SIGNER_CERT_DIR.
//
// Uso:
//
//	signer                                        atiende la cola
//	signer -import cert.p12 -ruc 1791321634001    importa un .p12 y termina
//
// La contraseña del .p12 se lee de SIGNER_CERT_PASSWORD.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	infraredis "github.com/jhoicas/comprobantes-sri/internal/infrastructure/redis"
	"github.com/jhoicas/comprobantes-sri/internal/infrastructure/sri/signer"
	"github.com/jhoicas/comprobantes-sri/pkg/config"
	"github.com/jhoicas/comprobantes-sri/pkg/logger"
)

func main() {
	importPath := flag.String("import", "", "ruta de un .p12 o PEM a importar")
	ruc := flag.String("ruc", "", "RUC del certificado a importar")
	owner := flag.String("owner", "", "propietario (por defecto SIGNER_OWNER_ID)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel}).Component("signer")

	store, err := signer.NewCertStore(cfg.Signer.CertDir)
	if err != nil {
		log.Fatal().Err(err).Msg("almacén de certificados")
	}

	if *importPath != "" {
		ownerID := *owner
		if ownerID == "" {
			ownerID = cfg.Signer.OwnerID
		}
		data, err := os.ReadFile(*importPath)
		if err != nil {
			log.Fatal().Err(err).Msg("leer certificado")
		}
		if err := store.Add(*ruc, ownerID, data, os.Getenv("SIGNER_CERT_PASSWORD")); err != nil {
			log.Fatal().Err(err).Msg("importar certificado")
		}
		log.Info().Str("ruc", *ruc).Str("owner", ownerID).Msg("certificado importado")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := infraredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a Redis")
	}
	defer rdb.Close()

	svc := signer.NewLocalService(store, signer.NewXAdESSigner())
	infraredis.NewSigningServer(rdb, cfg.Signer.Queue, svc, cfg.Signer.Workers, log).Run(ctx)
	log.Info().Msg("firmador detenido")
}
