// Package jwt emite y valida los tokens de acceso de un emisor. Cada token
// identifica al usuario, la empresa emisora y su RUC; el middleware HTTP compara
// ese RUC con el registrado para la empresa antes de dejar pasar la petición.
package jwt

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jhoicas/comprobantes-sri/pkg/sri"
)

// Roles reconocidos en el claim "role".
const (
	RoleAdmin    = "admin"    // administra emisor, establecimientos y puntos
	RoleEmisor   = "emisor"   // crea borradores y dispara el envío al SRI
	RoleConsulta = "consulta" // solo lectura
)

var knownRoles = []string{RoleAdmin, RoleEmisor, RoleConsulta}

// ErrInvalidClaims indica un token bien firmado con claims que no cuadran.
var ErrInvalidClaims = errors.New("jwt: claims inválidos")

// Claims del token. Subject es el usuario. CompanyID y RUC van juntos: un token
// sin empresa solo sirve para registrar el primer emisor.
type Claims struct {
	jwt.RegisteredClaims
	CompanyID string `json:"company_id,omitempty"`
	RUC       string `json:"ruc,omitempty"`
	Role      string `json:"role,omitempty"`
}

// UserID devuelve el usuario del token.
func (c *Claims) UserID() string { return c.Subject }

func (c *Claims) validate() error {
	if c.Subject == "" {
		return fmt.Errorf("%w: sin usuario", ErrInvalidClaims)
	}
	if (c.CompanyID == "") != (c.RUC == "") {
		return fmt.Errorf("%w: empresa y RUC van juntos", ErrInvalidClaims)
	}
	if c.RUC != "" {
		if err := sri.IsRuc(c.RUC); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidClaims, err)
		}
	}
	if c.Role != "" && !slices.Contains(knownRoles, c.Role) {
		return fmt.Errorf("%w: rol %q desconocido", ErrInvalidClaims, c.Role)
	}
	return nil
}

// Issuer firma y valida tokens HS256 de un emisor de tokens (claim "iss").
type Issuer struct {
	secret []byte
	name   string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer construye el emisor de tokens. name es el valor exigido en "iss".
func NewIssuer(secret, name string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt: secret vacío")
	}
	if name == "" {
		return nil, fmt.Errorf("jwt: issuer vacío")
	}
	return &Issuer{secret: []byte(secret), name: name, ttl: ttl, now: time.Now}, nil
}

// Issue firma un token para userID en la empresa companyID con RUC ruc.
func (i *Issuer) Issue(userID, companyID, ruc, role string) (string, error) {
	now := i.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.name,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		CompanyID: companyID,
		RUC:       ruc,
		Role:      role,
	}
	if err := claims.validate(); err != nil {
		return "", err
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Parse valida firma, expiración, issuer y claims propios del token.
func (i *Issuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.name),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, err
	}
	if err := claims.validate(); err != nil {
		return nil, err
	}
	return claims, nil
}
