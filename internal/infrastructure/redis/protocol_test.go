package redis_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/comprobantes-sri/internal/infrastructure/redis"
)

func TestCommand_FormatParse(t *testing.T) {
	tests := []struct {
		name string
		cmd  redis.Command
	}{
		{"sign", redis.Command{Name: redis.CmdSign, TaxID: "1791321634001", OwnerID: "default", Payload: []byte("<factura/>")}},
		{"add_cert con password", redis.Command{Name: redis.CmdAddCert, TaxID: "1791321634001", OwnerID: "default", Payload: []byte{0x30, 0x82, 0x01}, Password: "clave secreta"}},
		{"add_cert sin password", redis.Command{Name: redis.CmdAddCert, TaxID: "1791321634001", OwnerID: "default", Payload: []byte("pem")}},
		{"has_cert", redis.Command{Name: redis.CmdHasCert, TaxID: "1791321634001", OwnerID: "default"}},
		{"del_cert", redis.Command{Name: redis.CmdDelCert, TaxID: "1791321634001", OwnerID: "default"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := redis.ParseCommand(tt.cmd.Format())
			require.NoError(t, err)
			assert.Equal(t, tt.cmd, got)
		})
	}
}

func TestCommand_FormatTextual(t *testing.T) {
	cmd := redis.Command{Name: redis.CmdSign, TaxID: "1791321634001", OwnerID: "o1", Payload: []byte("<a/>")}
	assert.Equal(t, "sign 1791321634001 o1 PGEvPg==", cmd.Format())
}

func TestParseCommand_Errores(t *testing.T) {
	for _, in := range []string{
		"",
		"sign 1791321634001",
		"sign 1791321634001 o1",
		"sign 1791321634001 o1 %%%",
		"has_cert 1791321634001 o1 extra",
		"reboot 1791321634001 o1",
	} {
		_, err := redis.ParseCommand(in)
		assert.ErrorIs(t, err, redis.ErrMalformed, in)
	}
}

func TestReply_FormatParse(t *testing.T) {
	signed := redis.Reply{Kind: redis.ReplySignedXML, Payload: []byte("<factura><ds:Signature/></factura>")}
	got, err := redis.ParseReply(signed.Format())
	require.NoError(t, err)
	assert.Equal(t, signed, got)

	got, err = redis.ParseReply("error certificado no registrado")
	require.NoError(t, err)
	assert.Equal(t, "certificado no registrado", got.Message)

	for _, k := range []string{redis.ReplyOK, redis.ReplyYes, redis.ReplyNo} {
		got, err := redis.ParseReply(k)
		require.NoError(t, err)
		assert.Equal(t, k, got.Kind)
	}

	_, err = redis.ParseReply("signed_xml ###")
	assert.ErrorIs(t, err, redis.ErrMalformed)
	_, err = redis.ParseReply("quizás")
	assert.ErrorIs(t, err, redis.ErrMalformed)
}
