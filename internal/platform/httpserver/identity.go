package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	httpadapter "ledgerflow/contexts/finance-core/ledger-service/adapters/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
)

type callerKey struct{}

// identify resolves the caller from an HS256 bearer token when a JWT secret
// is configured, and from X-Tenant-Id / X-Actor-Id / X-Actor-Role headers
// otherwise. Missing tenant or actor is left for the use cases to reject.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := httpadapter.Caller{RequestID: chimw.GetReqID(r.Context())}

		if s.options.JWTSecret == "" {
			caller.TenantID = strings.TrimSpace(r.Header.Get("X-Tenant-Id"))
			caller.ActorID = strings.TrimSpace(r.Header.Get("X-Actor-Id"))
			caller.Role = strings.TrimSpace(r.Header.Get("X-Actor-Role"))
		} else {
			claims, err := s.parseBearer(r.Header.Get("Authorization"))
			if err != nil {
				s.logger.Warn("bearer token rejected",
					"event", "http_auth_rejected",
					"module", "internal/platform/httpserver",
					"layer", "platform",
					"request_id", caller.RequestID,
					"error", err.Error(),
				)
				writeError(w, http.StatusUnauthorized, "unauthorized", "valid bearer token is required")
				return
			}
			caller.ActorID, _ = claims["sub"].(string)
			caller.TenantID, _ = claims["tenant_id"].(string)
			caller.Role, _ = claims["role"].(string)
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

func (s *Server) parseBearer(raw string) (jwt.MapClaims, error) {
	if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		return nil, fmt.Errorf("missing bearer token")
	}
	tokStr := strings.TrimSpace(raw[len("Bearer "):])

	token, err := jwt.Parse(tokStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %T", token.Method)
		}
		return []byte(s.options.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	if s.options.JWTIssuer != "" {
		if iss, _ := claims["iss"].(string); iss != s.options.JWTIssuer {
			return nil, fmt.Errorf("issuer mismatch: %q", iss)
		}
	}
	if sub, _ := claims["sub"].(string); sub == "" {
		return nil, fmt.Errorf("no subject")
	}
	return claims, nil
}

func callerFrom(ctx context.Context) httpadapter.Caller {
	caller, _ := ctx.Value(callerKey{}).(httpadapter.Caller)
	return caller
}
