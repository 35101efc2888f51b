package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type contextKey string

const actorContextKey contextKey = "actor"

// Actor types carried in the actor_type claim.
const (
	ActorPlayer   = "PLAYER"
	ActorOperator = "OPERATOR"
	ActorService  = "SERVICE"
)

type Actor struct {
	ID   string
	Type string
}

// NormalizeActorType accepts the bare names in any case and the
// ACTOR_TYPE_-prefixed enum spelling.
func NormalizeActorType(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	v = strings.TrimPrefix(v, "ACTOR_TYPE_")
	switch v {
	case ActorPlayer, ActorOperator, ActorService:
		return v
	}
	return ""
}

// HMACKeyset holds the HS256 keys by kid. Tokens are signed with ActiveKID;
// any listed key verifies, so keys can be rotated without downtime.
type HMACKeyset struct {
	ActiveKID string
	Keys      map[string][]byte
}

// ParseHMACKeyset builds a keyset from a single secret, a "kid:secret,..."
// list, or both. A lone secret gets the kid "default".
func ParseHMACKeyset(secret, list, activeKID string) (HMACKeyset, error) {
	keys := map[string][]byte{}
	if s := strings.TrimSpace(secret); s != "" {
		keys["default"] = []byte(s)
	}
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kid, key, ok := strings.Cut(part, ":")
		kid, key = strings.TrimSpace(kid), strings.TrimSpace(key)
		if !ok || kid == "" || key == "" {
			return HMACKeyset{}, fmt.Errorf("malformed jwt key entry %q", part)
		}
		keys[kid] = []byte(key)
	}
	return newKeyset(keys, activeKID)
}

func newKeyset(keys map[string][]byte, activeKID string) (HMACKeyset, error) {
	if len(keys) == 0 {
		return HMACKeyset{}, errors.New("no jwt keys configured")
	}
	active := strings.TrimSpace(activeKID)
	if active == "" {
		if len(keys) != 1 {
			return HMACKeyset{}, errors.New("active kid is required with several keys")
		}
		for kid := range keys {
			active = kid
		}
	}
	if _, ok := keys[active]; !ok {
		return HMACKeyset{}, fmt.Errorf("active kid %q not found in keyset", active)
	}
	return HMACKeyset{ActiveKID: active, Keys: keys}, nil
}

// bearerToken extracts the token of an "Authorization: Bearer" value.
func bearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return tok, tok != ""
}

type JWTVerifier struct {
	keyset HMACKeyset
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{keyset: HMACKeyset{ActiveKID: "default", Keys: map[string][]byte{"default": []byte(secret)}}}
}

func NewJWTVerifierWithKeyset(ks HMACKeyset) *JWTVerifier {
	return &JWTVerifier{keyset: ks}
}

func (v *JWTVerifier) ParseActor(tokenString string) (Actor, error) {
	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			kid = v.keyset.ActiveKID
		}
		key, ok := v.keyset.Keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(5*time.Second), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return Actor{}, errors.New("invalid token")
	}

	sub, _ := claims["sub"].(string)
	raw, _ := claims["actor_type"].(string)
	actorType := NormalizeActorType(raw)
	if sub == "" || actorType == "" {
		return Actor{}, errors.New("missing actor claims")
	}
	return Actor{ID: sub, Type: actorType}, nil
}

type JWTSigner struct {
	keyset HMACKeyset
}

func NewJWTSignerWithKeyset(ks HMACKeyset) *JWTSigner {
	return &JWTSigner{keyset: ks}
}

// SignActor issues a token for actor valid for ttl from now.
func (s *JWTSigner) SignActor(actor Actor, now time.Time, ttl time.Duration) (string, time.Time, error) {
	actorType := NormalizeActorType(actor.Type)
	if actor.ID == "" || actorType == "" {
		return "", time.Time{}, errors.New("actor id and a known actor type are required")
	}
	key, ok := s.keyset.Keys[s.keyset.ActiveKID]
	if !ok {
		return "", time.Time{}, fmt.Errorf("active kid %q has no key", s.keyset.ActiveKID)
	}
	exp := now.Add(ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":        actor.ID,
		"actor_type": actorType,
		"iat":        now.Unix(),
		"exp":        exp.Unix(),
	})
	tok.Header["kid"] = s.keyset.ActiveKID
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	v, ok := ctx.Value(actorContextKey).(Actor)
	return v, ok
}

// ErrMissingToken is returned by Authenticate when no bearer token was sent.
var ErrMissingToken = fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)

// Authenticate resolves an Authorization header value into the calling actor.
// Every failure wraps ErrUnauthenticated.
func (v *JWTVerifier) Authenticate(header string) (Actor, error) {
	tok, ok := bearerToken(header)
	if !ok {
		return Actor{}, ErrMissingToken
	}
	actor, err := v.ParseActor(tok)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	return actor, nil
}

func HTTPJWTMiddleware(verifier *JWTVerifier, next http.Handler) http.Handler {
	return HTTPJWTMiddlewareWithSkips(verifier, next, nil)
}

func HTTPJWTMiddlewareWithSkips(verifier *JWTVerifier, next http.Handler, skipPaths []string) http.Handler {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := skip[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}
		actor, err := verifier.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// UnaryAuthInterceptor is the gRPC side of HTTPJWTMiddleware. Calls for which
// public reports true pass through without an actor.
func UnaryAuthInterceptor(verifier *JWTVerifier, public func(fullMethod string) bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if public != nil && public(info.FullMethod) {
			return handler(ctx, req)
		}
		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("authorization"); len(v) > 0 {
				header = v[0]
			}
		}
		actor, err := verifier.Authenticate(header)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(WithActor(ctx, actor), req)
	}
}
