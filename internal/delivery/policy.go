package delivery

import (
	"context"

	"github.com/veilmsg/veil/internal/model"
	"go.uber.org/zap"
)

// PathChecker answers which paths the region policy allows for a contact.
// The backend client satisfies it.
type PathChecker interface {
	CheckAvailablePaths(ctx context.Context, phone, email, region string) ([]string, error)
}

// Resolver combines the remote region policy with the local user
// configuration into the final path set for a contact.
type Resolver struct {
	checker PathChecker
	region  string
	enabled []Path
	logger  *zap.Logger
}

// NewResolver creates a Resolver. A nil logger disables logging.
func NewResolver(checker PathChecker, region string, enabled []Path, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{checker: checker, region: region, enabled: enabled, logger: logger}
}

// Resolve returns the usable paths for a contact. When the policy check
// fails the region is treated as unrestricted so sends keep flowing while
// the backend is degraded.
func (r *Resolver) Resolve(ctx context.Context, contact model.Contact) []Path {
	regionPolicy := []Path{PathSMS, PathEmail}
	if r.checker != nil {
		raw, err := r.checker.CheckAvailablePaths(ctx, contact.PhoneNumber, contact.Email, r.region)
		if err != nil {
			r.logger.Warn("path policy check failed, assuming unrestricted", zap.Error(err))
		} else {
			regionPolicy = regionPolicy[:0]
			for _, p := range raw {
				regionPolicy = append(regionPolicy, Normalize(p))
			}
		}
	}
	return ResolvePaths(contact, regionPolicy, r.enabled)
}
