package auth

import (
	"context"
	"errors"
)

var (
	ErrUnauthenticated = errors.New("no authenticated actor")
	ErrForbidden       = errors.New("actor is not allowed to perform this call")
)

// Policy decides what an authenticated actor may do. With Enabled false (no
// secret configured, local runs) every call is allowed.
type Policy struct {
	Enabled bool
}

// CanMutate allows ledger commands to services and operators only.
func (p Policy) CanMutate(ctx context.Context) error {
	if !p.Enabled {
		return nil
	}
	a, ok := ActorFromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if a.Type == ActorService || a.Type == ActorOperator {
		return nil
	}
	return ErrForbidden
}

// CanActForPlayer allows services, operators and the player themselves.
func (p Policy) CanActForPlayer(ctx context.Context, playerID string) error {
	if !p.Enabled {
		return nil
	}
	a, ok := ActorFromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	switch a.Type {
	case ActorService, ActorOperator:
		return nil
	case ActorPlayer:
		if a.ID == playerID {
			return nil
		}
	}
	return ErrForbidden
}

// CanAdminister is reserved for operators.
func (p Policy) CanAdminister(ctx context.Context) error {
	if !p.Enabled {
		return nil
	}
	a, ok := ActorFromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if a.Type == ActorOperator {
		return nil
	}
	return ErrForbidden
}
