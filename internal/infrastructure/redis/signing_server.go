package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jhoicas/comprobantes-sri/internal/infrastructure/sri/signer"
	"github.com/jhoicas/comprobantes-sri/pkg/logger"
)

// replyTTL limita la vida de una respuesta que nadie recogió.
const replyTTL = time.Minute

// SigningServer atiende la cola del firmador con un pool de workers (BRPOP).
type SigningServer struct {
	rdb     *goredis.Client
	queue   string
	svc     *signer.LocalService
	workers int
	log     *logger.Logger
}

// NewSigningServer crea el servidor sobre el servicio de firma local.
func NewSigningServer(rdb *goredis.Client, queue string, svc *signer.LocalService, workers int, log *logger.Logger) *SigningServer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SigningServer{rdb: rdb, queue: queue, svc: svc, workers: workers, log: log.Component("redis.signer-server")}
}

// Run bloquea atendiendo la cola hasta que ctx se cancela.
func (s *SigningServer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.worker(ctx, id)
		}(i)
	}
	s.log.Info().Int("workers", s.workers).Str("cola", s.queue).Msg("firmador escuchando")
	wg.Wait()
}

func (s *SigningServer) worker(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			s.log.Debug().Int("worker", id).Msg("worker detenido")
			return
		}
		// BRPOP con timeout para revisar ctx periódicamente.
		res, err := s.rdb.BRPop(ctx, 5*time.Second, s.queue).Result()
		if err != nil {
			if !errors.Is(err, goredis.Nil) && ctx.Err() == nil {
				s.log.Error().Err(err).Msg("BRPOP falló")
				time.Sleep(time.Second)
			}
			continue
		}
		if len(res) < 2 {
			continue
		}
		s.serve(ctx, res[1])
	}
}

func (s *SigningServer) serve(ctx context.Context, raw string) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		s.log.Warn().Err(err).Msg("sobre descartado")
		return
	}
	reply := s.Handle(ctx, env.Command)

	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, env.ReplyTo, reply)
	pipe.Expire(ctx, env.ReplyTo, replyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error().Err(err).Str("reply_to", env.ReplyTo).Msg("no se pudo responder")
	}
}

// Handle ejecuta un comando textual y devuelve la respuesta textual.
func (s *SigningServer) Handle(ctx context.Context, command string) string {
	cmd, err := ParseCommand(command)
	if err != nil {
		return Reply{Kind: ReplyError, Message: err.Error()}.Format()
	}
	log := s.log.With().Str("cmd", cmd.Name).Str("ruc", cmd.TaxID).Str("owner", cmd.OwnerID).Logger()

	store := s.svc.Store()
	switch cmd.Name {
	case CmdSign:
		signed, err := s.svc.Sign(ctx, cmd.TaxID, cmd.OwnerID, cmd.Payload)
		if err != nil {
			log.Warn().Err(err).Msg("firma rechazada")
			return Reply{Kind: ReplyError, Message: err.Error()}.Format()
		}
		log.Debug().Int("bytes", len(signed)).Msg("comprobante firmado")
		return Reply{Kind: ReplySignedXML, Payload: signed}.Format()
	case CmdAddCert:
		if err := store.Add(cmd.TaxID, cmd.OwnerID, cmd.Payload, cmd.Password); err != nil {
			return Reply{Kind: ReplyError, Message: err.Error()}.Format()
		}
		log.Info().Msg("certificado registrado")
		return Reply{Kind: ReplyOK}.Format()
	case CmdDelCert:
		if err := store.Delete(cmd.TaxID, cmd.OwnerID); err != nil {
			return Reply{Kind: ReplyError, Message: err.Error()}.Format()
		}
		log.Info().Msg("certificado eliminado")
		return Reply{Kind: ReplyOK}.Format()
	case CmdHasCert:
		if store.Has(cmd.TaxID, cmd.OwnerID) {
			return Reply{Kind: ReplyYes}.Format()
		}
		return Reply{Kind: ReplyNo}.Format()
	}
	return Reply{Kind: ReplyError, Message: "comando desconocido"}.Format()
}
