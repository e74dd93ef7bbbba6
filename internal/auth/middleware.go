package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken   = errors.New("bearer token required")
	ErrInvalidToken   = errors.New("invalid token")
	ErrMissingSubject = errors.New("token has no subject")
)

type operatorCtxKey struct{}

// OperatorFromContext returns the subject of the token that authorized the request.
func OperatorFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	operator, ok := ctx.Value(operatorCtxKey{}).(string)
	return operator, ok && operator != ""
}

// Verifier checks HMAC-signed operator tokens.
type Verifier struct {
	key    []byte
	parser *jwt.Parser
}

// NewVerifier builds a verifier for secret. A non-empty audience must appear
// in the token's aud claim.
func NewVerifier(secret, audience string) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{
			jwt.SigningMethodHS256.Alg(),
			jwt.SigningMethodHS384.Alg(),
			jwt.SigningMethodHS512.Alg(),
		}),
	}
	if audience = strings.TrimSpace(audience); audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &Verifier{
		key:    []byte(strings.TrimSpace(secret)),
		parser: jwt.NewParser(opts...),
	}
}

// Operator validates the Authorization header value and returns the token subject.
func (v *Verifier) Operator(authorization string) (string, error) {
	raw, err := bearerToken(authorization)
	if err != nil {
		return "", err
	}
	if len(v.key) == 0 {
		return "", ErrInvalidToken
	}

	var claims jwt.RegisteredClaims
	if _, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	}); err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", ErrMissingSubject
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid operator token with 401 and
// stores the operator on the request context otherwise.
func (v *Verifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		operator, err := v.Operator(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": rejection(err)})
			return
		}
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), operatorCtxKey{}, operator))
		c.Next()
	}
}

// EnrollmentGuard protects the routes that write to the gallery. With an
// empty secret it lets every request through.
func EnrollmentGuard(secret, audience string) gin.HandlerFunc {
	if strings.TrimSpace(secret) == "" {
		return func(c *gin.Context) { c.Next() }
	}
	return NewVerifier(secret, audience).Middleware()
}

func bearerToken(authorization string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMissingToken
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// rejection keeps parser detail out of the response body.
func rejection(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return ErrMissingToken.Error()
	case errors.Is(err, ErrMissingSubject):
		return ErrMissingSubject.Error()
	default:
		return ErrInvalidToken.Error()
	}
}
