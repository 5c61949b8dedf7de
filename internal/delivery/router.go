// Package delivery maps logical send intents onto concrete transport paths.
package delivery

import (
	"context"
	"sort"
	"strings"

	"github.com/veilmsg/veil/internal/model"
	"go.uber.org/zap"
)

// Path is a normalized delivery channel identifier.
type Path string

const (
	PathSMS   Path = "sms"
	PathEmail Path = "email"
)

// aliases maps legacy backend identifiers onto canonical paths.
var aliases = map[string]Path{
	"send_email": PathEmail,
	"send_sms":   PathSMS,
}

// Normalize maps a path identifier onto its canonical form. Matching is
// case-insensitive; unrecognized identifiers pass through lower-cased as an
// opaque extension point.
func Normalize(identifier string) Path {
	lowered := strings.ToLower(strings.TrimSpace(identifier))
	if canonical, ok := aliases[lowered]; ok {
		return canonical
	}
	return Path(lowered)
}

// ResolvePaths returns the paths usable for a contact: the intersection of
// what the contact's populated fields support, what the region policy
// allows, and what the user has enabled. Pure function of its inputs.
func ResolvePaths(contact model.Contact, regionPolicy, userEnabled []Path) []Path {
	supported := make(map[Path]bool)
	if contact.PhoneNumber != "" {
		supported[PathSMS] = true
	}
	if contact.Email != "" {
		supported[PathEmail] = true
	}

	allowed := make(map[Path]bool)
	for _, p := range regionPolicy {
		allowed[Normalize(string(p))] = true
	}

	var out []Path
	seen := make(map[Path]bool)
	for _, p := range userEnabled {
		canonical := Normalize(string(p))
		if supported[canonical] && allowed[canonical] && !seen[canonical] {
			seen[canonical] = true
			out = append(out, canonical)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Transport is the external adapter actually carrying a payload. The
// backend client satisfies it.
type Transport interface {
	SendSMS(ctx context.Context, to, message string) error
	SendEmail(ctx context.Context, to, subject, message string) error
	SendEmailWithImage(ctx context.Context, to, message string, imageData []byte, filename string) error
}

// Result reports the outcome of one dispatch. Delivery failure is a value,
// never an error that blocks the local timeline append; a retrying sender
// can be substituted behind this same seam.
type Result struct {
	Path     Path
	Accepted bool
	Err      error
}

// Router dispatches payloads to the adapter for their path.
type Router struct {
	transport Transport
	logger    *zap.Logger
}

// NewRouter creates a Router. A nil logger disables logging.
func NewRouter(transport Transport, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{transport: transport, logger: logger}
}

// Dispatch sends one text payload over the given path.
func (r *Router) Dispatch(ctx context.Context, path Path, contact model.Contact, message string) Result {
	var err error
	switch path {
	case PathSMS:
		err = r.transport.SendSMS(ctx, contact.PhoneNumber, message)
	case PathEmail:
		err = r.transport.SendEmail(ctx, contact.Email, "", message)
	default:
		r.logger.Warn("no adapter for path", zap.String("path", string(path)))
		return Result{Path: path, Accepted: false}
	}
	if err != nil {
		r.logger.Warn("dispatch failed", zap.String("path", string(path)), zap.Error(err))
		return Result{Path: path, Accepted: false, Err: err}
	}
	return Result{Path: path, Accepted: true}
}

// DispatchImage sends an image payload. Images only travel over email.
func (r *Router) DispatchImage(ctx context.Context, contact model.Contact, caption string, imageData []byte, filename string) Result {
	err := r.transport.SendEmailWithImage(ctx, contact.Email, caption, imageData, filename)
	if err != nil {
		r.logger.Warn("image dispatch failed", zap.Error(err))
		return Result{Path: PathEmail, Accepted: false, Err: err}
	}
	return Result{Path: PathEmail, Accepted: true}
}
