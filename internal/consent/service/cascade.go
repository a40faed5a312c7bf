package service

import (
	"context"
	"errors"

	id "vaultline/pkg/domain"
	dErrors "vaultline/pkg/domain-errors"
	"vaultline/pkg/platform/sentinel"
)

// cascade removes derived data and then the identity. It must run inside the
// caller's transaction.
func (s *Service) cascade(ctx context.Context, identityID id.IdentityID) error {
	for _, p := range s.purgers {
		if err := p.PurgeIdentity(ctx, identityID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeStoreWrite, "purge derived data")
		}
	}
	if err := s.identities.Delete(ctx, identityID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeNotFound, "identity not found")
		}
		return dErrors.Wrap(err, dErrors.CodeStoreWrite, "delete identity")
	}
	return nil
}

// PurgeIdentity runs the same cascading deletion as a submission-consent
// withdrawal without writing a consent record or per-identity audit entries.
// The retention sweep uses it and audits the batch as a whole.
func (s *Service) PurgeIdentity(ctx context.Context, identityID id.IdentityID) error {
	ctx, span := s.tracer.Start(ctx, "consent.PurgeIdentity")
	defer span.End()

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.cascade(ctx, identityID)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if s.metrics != nil {
		s.metrics.IncCascadeDeletions("retention_expired")
	}
	return nil
}
