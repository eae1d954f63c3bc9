package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jhoicas/comprobantes-sri/internal/domain"
	"github.com/jhoicas/comprobantes-sri/pkg/logger"
)

// SigningClient habla con el demonio de firma (cmd/signer) por listas de Redis:
// LPUSH del sobre en la cola y BLPOP de la respuesta en una lista propia.
// Implementa billing.SigningService.
type SigningClient struct {
	rdb     *goredis.Client
	queue   string
	timeout time.Duration
	log     *logger.Logger
}

// NewSigningClient crea el cliente. timeout acota la espera de cada respuesta.
func NewSigningClient(rdb *goredis.Client, queue string, timeout time.Duration, log *logger.Logger) *SigningClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SigningClient{rdb: rdb, queue: queue, timeout: timeout, log: log.Component("redis.signer")}
}

// Sign pide la firma del XML. "error ..." del demonio es domain.ErrSigningFailed;
// sin respuesta a tiempo es domain.TransportFailure.
func (c *SigningClient) Sign(ctx context.Context, taxID, ownerID string, xml []byte) ([]byte, error) {
	reply, err := c.call(ctx, Command{Name: CmdSign, TaxID: taxID, OwnerID: ownerID, Payload: xml})
	if err != nil {
		return nil, err
	}
	switch reply.Kind {
	case ReplySignedXML:
		return reply.Payload, nil
	case ReplyError:
		return nil, fmt.Errorf("%w: %s", domain.ErrSigningFailed, reply.Message)
	default:
		return nil, domain.NewTransportFailure(CmdSign, fmt.Errorf("%w: respuesta %q a sign", ErrMalformed, reply.Kind))
	}
}

// AddCert registra un certificado (.p12 o PEM) para (taxID, ownerID).
func (c *SigningClient) AddCert(ctx context.Context, taxID, ownerID string, cert []byte, password string) error {
	reply, err := c.call(ctx, Command{Name: CmdAddCert, TaxID: taxID, OwnerID: ownerID, Payload: cert, Password: password})
	if err != nil {
		return err
	}
	return expectOK(reply)
}

// DelCert elimina el certificado de (taxID, ownerID).
func (c *SigningClient) DelCert(ctx context.Context, taxID, ownerID string) error {
	reply, err := c.call(ctx, Command{Name: CmdDelCert, TaxID: taxID, OwnerID: ownerID})
	if err != nil {
		return err
	}
	return expectOK(reply)
}

// HasCert consulta si hay certificado para (taxID, ownerID).
func (c *SigningClient) HasCert(ctx context.Context, taxID, ownerID string) (bool, error) {
	reply, err := c.call(ctx, Command{Name: CmdHasCert, TaxID: taxID, OwnerID: ownerID})
	if err != nil {
		return false, err
	}
	switch reply.Kind {
	case ReplyYes:
		return true, nil
	case ReplyNo:
		return false, nil
	case ReplyError:
		return false, errors.New(reply.Message)
	default:
		return false, fmt.Errorf("%w: respuesta %q a has_cert", ErrMalformed, reply.Kind)
	}
}

func expectOK(r Reply) error {
	switch r.Kind {
	case ReplyOK:
		return nil
	case ReplyError:
		return errors.New(r.Message)
	default:
		return fmt.Errorf("%w: respuesta %q", ErrMalformed, r.Kind)
	}
}

func (c *SigningClient) call(ctx context.Context, cmd Command) (Reply, error) {
	replyTo := c.queue + ":reply:" + uuid.NewString()
	raw, err := encodeEnvelope(replyTo, cmd.Format())
	if err != nil {
		return Reply{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout+time.Second)
	defer cancel()

	if err := c.rdb.LPush(ctx, c.queue, raw).Err(); err != nil {
		return Reply{}, domain.NewTransportFailure(cmd.Name, fmt.Errorf("encolar: %w", err))
	}
	defer c.rdb.Del(context.WithoutCancel(ctx), replyTo)

	res, err := c.rdb.BLPop(ctx, c.timeout, replyTo).Result()
	switch {
	case errors.Is(err, goredis.Nil):
		c.log.Warn().Str("cmd", cmd.Name).Str("ruc", cmd.TaxID).Dur("timeout", c.timeout).Msg("firmador sin respuesta")
		return Reply{}, domain.NewTransportFailure(cmd.Name, fmt.Errorf("firmador sin respuesta en %s", c.timeout))
	case err != nil:
		return Reply{}, domain.NewTransportFailure(cmd.Name, err)
	case len(res) < 2:
		return Reply{}, domain.NewTransportFailure(cmd.Name, fmt.Errorf("%w: BLPOP vacío", ErrMalformed))
	}

	reply, err := ParseReply(res[1])
	if err != nil {
		return Reply{}, domain.NewTransportFailure(cmd.Name, err)
	}
	return reply, nil
}
