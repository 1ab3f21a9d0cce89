package runtime

import (
	"context"
	"encoding/xml"
	"errors"

	"github.com/drblury/syncflow/internal/codec"
	"github.com/drblury/syncflow/internal/dispatcher"
	"github.com/drblury/syncflow/internal/entity"
	"github.com/drblury/syncflow/internal/envelope"
	"github.com/drblury/syncflow/internal/identity"
	"github.com/drblury/syncflow/internal/schema"
	"github.com/drblury/syncflow/internal/source"
)

type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryTransport  ErrorCategory = "transport"
	ErrorCategoryDownstream ErrorCategory = "downstream"
	ErrorCategoryOther      ErrorCategory = "other"
)

// ErrorClassifier maps a handler error onto a category for handler stats.
type ErrorClassifier func(error) ErrorCategory

// DefaultErrorClassifier sorts pipeline errors: envelopes that cannot be
// understood are validation errors, unreachable collaborators are transport
// errors and adapter rejections are downstream errors.
func DefaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}

	var adapterErr *dispatcher.AdapterError
	if errors.As(err, &adapterErr) {
		return ErrorCategoryDownstream
	}

	var invalid *schema.InvalidError
	var syntax *xml.SyntaxError
	switch {
	case errors.As(err, &invalid),
		errors.As(err, &syntax),
		errors.Is(err, envelope.ErrUnknownKind),
		errors.Is(err, dispatcher.ErrNoHandler),
		errors.Is(err, codec.ErrMissingIdentity),
		errors.Is(err, codec.ErrRecordMismatch),
		errors.Is(err, entity.ErrInvalidRouteKey):
		return ErrorCategoryValidation
	case errors.Is(err, identity.ErrServiceUnavailable),
		errors.Is(err, source.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryTransport
	}
	return ErrorCategoryOther
}
