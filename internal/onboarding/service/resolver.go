package service

import (
	"context"
	"errors"

	"vaultline/internal/onboarding/models"
	dErrors "vaultline/pkg/domain-errors"
	"vaultline/pkg/platform/sentinel"
)

// resolve finds the active conversation for address. It returns nil, nil
// when the address has none.
func (s *Service) resolve(ctx context.Context, address string) (*models.State, error) {
	switch s.strategy {
	case LookupScan:
		return s.resolveByScan(ctx, address)
	default:
		return s.resolveByIndex(ctx, address)
	}
}

// resolveByIndex narrows to one row with the blind index and then requires
// the bcrypt hash to agree. A disagreement means the index or the row was
// tampered with, so it is reported rather than treated as a new address.
func (s *Service) resolveByIndex(ctx context.Context, address string) (*models.State, error) {
	state, err := s.states.FindActiveByIndex(ctx, s.crypto.BlindIndex(address))
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load conversation")
	}
	if !s.crypto.VerifyLookupSecret(address, state.LookupHash) {
		return nil, dErrors.New(dErrors.CodeAuthenticationFailure, "conversation lookup hash does not match its index")
	}
	return state, nil
}

// resolveByScan costs one bcrypt comparison per active conversation.
func (s *Service) resolveByScan(ctx context.Context, address string) (*models.State, error) {
	active, err := s.states.ListActive(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list conversations")
	}
	for _, state := range active {
		if s.crypto.VerifyLookupSecret(address, state.LookupHash) {
			return state, nil
		}
	}
	return nil, nil
}
