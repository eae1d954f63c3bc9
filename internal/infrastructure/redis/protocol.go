package redis

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Comandos del canal de firma. Todos se identifican por (taxId, ownerId).
const (
	CmdSign    = "sign"
	CmdAddCert = "add_cert"
	CmdDelCert = "del_cert"
	CmdHasCert = "has_cert"

	ReplySignedXML = "signed_xml"
	ReplyOK        = "ok"
	ReplyYes       = "yes"
	ReplyNo        = "no"
	ReplyError     = "error"
)

// ErrMalformed indica un comando o respuesta que no respeta el protocolo.
var ErrMalformed = errors.New("firma: mensaje mal formado")

// envelope viaja por la cola: el comando textual y la lista donde responder.
type envelope struct {
	ReplyTo string `json:"reply_to"`
	Command string `json:"command"`
}

// Command es un comando del firmador ya decodificado.
type Command struct {
	Name     string
	TaxID    string
	OwnerID  string
	Payload  []byte // XML en sign, certificado en add_cert
	Password string // solo add_cert
}

// Format serializa el comando como texto: "<name> <taxId> <ownerId> [<b64> [<b64 password>]]".
func (c Command) Format() string {
	parts := []string{c.Name, c.TaxID, c.OwnerID}
	switch c.Name {
	case CmdSign:
		parts = append(parts, base64.StdEncoding.EncodeToString(c.Payload))
	case CmdAddCert:
		parts = append(parts, base64.StdEncoding.EncodeToString(c.Payload))
		if c.Password != "" {
			parts = append(parts, base64.StdEncoding.EncodeToString([]byte(c.Password)))
		}
	}
	return strings.Join(parts, " ")
}

// ParseCommand decodifica un comando textual.
func ParseCommand(s string) (Command, error) {
	f := strings.Fields(s)
	if len(f) < 3 {
		return Command{}, fmt.Errorf("%w: %q", ErrMalformed, truncate(s))
	}
	cmd := Command{Name: f[0], TaxID: f[1], OwnerID: f[2]}
	switch cmd.Name {
	case CmdSign:
		if len(f) != 4 {
			return Command{}, fmt.Errorf("%w: sign espera 3 argumentos", ErrMalformed)
		}
	case CmdAddCert:
		if len(f) != 4 && len(f) != 5 {
			return Command{}, fmt.Errorf("%w: add_cert espera 3 o 4 argumentos", ErrMalformed)
		}
	case CmdDelCert, CmdHasCert:
		if len(f) != 3 {
			return Command{}, fmt.Errorf("%w: %s espera 2 argumentos", ErrMalformed, cmd.Name)
		}
		return cmd, nil
	default:
		return Command{}, fmt.Errorf("%w: comando desconocido %q", ErrMalformed, cmd.Name)
	}

	payload, err := base64.StdEncoding.DecodeString(f[3])
	if err != nil {
		return Command{}, fmt.Errorf("%w: base64: %v", ErrMalformed, err)
	}
	cmd.Payload = payload
	if len(f) == 5 {
		pw, err := base64.StdEncoding.DecodeString(f[4])
		if err != nil {
			return Command{}, fmt.Errorf("%w: base64 password: %v", ErrMalformed, err)
		}
		cmd.Password = string(pw)
	}
	return cmd, nil
}

// Reply es la respuesta del firmador.
type Reply struct {
	Kind    string // signed_xml, ok, yes, no, error
	Payload []byte // XML firmado
	Message string // detalle de error
}

// Format serializa la respuesta.
func (r Reply) Format() string {
	switch r.Kind {
	case ReplySignedXML:
		return ReplySignedXML + " " + base64.StdEncoding.EncodeToString(r.Payload)
	case ReplyError:
		return strings.TrimSpace(ReplyError + " " + r.Message)
	default:
		return r.Kind
	}
}

// ParseReply decodifica una respuesta textual.
func ParseReply(s string) (Reply, error) {
	kind, rest, _ := strings.Cut(strings.TrimSpace(s), " ")
	switch kind {
	case ReplySignedXML:
		payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rest))
		if err != nil {
			return Reply{}, fmt.Errorf("%w: base64: %v", ErrMalformed, err)
		}
		return Reply{Kind: kind, Payload: payload}, nil
	case ReplyError:
		return Reply{Kind: kind, Message: rest}, nil
	case ReplyOK, ReplyYes, ReplyNo:
		return Reply{Kind: kind}, nil
	default:
		return Reply{}, fmt.Errorf("%w: respuesta %q", ErrMalformed, truncate(s))
	}
}

func encodeEnvelope(replyTo, command string) (string, error) {
	b, err := json.Marshal(envelope{ReplyTo: replyTo, Command: command})
	return string(b), err
}

func decodeEnvelope(raw string) (envelope, error) {
	var e envelope
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if e.ReplyTo == "" {
		return envelope{}, fmt.Errorf("%w: falta reply_to", ErrMalformed)
	}
	return e, nil
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "…"
	}
	return s
}
