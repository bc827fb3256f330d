package domain

import "errors"

var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates a unique key is already taken.
	ErrAlreadyExists = errors.New("already exists")
)

// Kind classifies an Error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthRequired
	KindValidation
	KindOwnership
	KindExpired
	KindEntitlement
	KindNotFound
	KindRateLimited
	KindConfiguration
	KindUpstream
	KindAssetMissing
)

// Machine-readable reasons surfaced to clients.
const (
	ReasonAuthRequired      = "auth_required"
	ReasonInvalidRequest    = "invalid_request"
	ReasonInvalidCart       = "invalid_cart"
	ReasonUnknownProduct    = "unknown_product"
	ReasonPromoInvalid      = "promo_invalid"
	ReasonPromoExpired      = "promo_expired"
	ReasonNotOwner          = "not_owner"
	ReasonDownloadExpired   = "download_expired"
	ReasonNotEntitled       = "not_entitled"
	ReasonSessionNotFound   = "session_not_found"
	ReasonPaymentIncomplete = "payment_incomplete"
	ReasonInvalidSignature  = "invalid_signature"
	ReasonRateLimited       = "rate_limited"
	ReasonConfiguration     = "configuration_error"
	ReasonUpstream          = "upstream_error"
	ReasonAssetMissing      = "asset_missing"
	ReasonInternal          = "internal_error"
)

// Error is a classified failure with a client-safe message. Err holds the
// underlying cause for logs and is never sent to clients.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Reason + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func AuthRequired(msg string) *Error {
	return &Error{Kind: KindAuthRequired, Reason: ReasonAuthRequired, Message: msg}
}

func Validation(reason, msg string) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Message: msg}
}

// Ownership covers both unknown sessions and sessions owned by someone else.
func Ownership() *Error {
	return &Error{Kind: KindOwnership, Reason: ReasonNotOwner, Message: "Purchase not found or access denied"}
}

func Expired(msg string) *Error {
	return &Error{Kind: KindExpired, Reason: ReasonDownloadExpired, Message: msg}
}

func NotEntitled(msg string) *Error {
	return &Error{Kind: KindEntitlement, Reason: ReasonNotEntitled, Message: msg}
}

func NotFound(reason, msg string, err error) *Error {
	return &Error{Kind: KindNotFound, Reason: reason, Message: msg, Err: err}
}

func RateLimited() *Error {
	return &Error{Kind: KindRateLimited, Reason: ReasonRateLimited, Message: "Too many requests, please try again later"}
}

func Configuration(msg string) *Error {
	return &Error{Kind: KindConfiguration, Reason: ReasonConfiguration, Message: msg}
}

func Upstream(msg string, err error) *Error {
	return &Error{Kind: KindUpstream, Reason: ReasonUpstream, Message: msg, Err: err}
}

func AssetMissing(msg string, err error) *Error {
	return &Error{Kind: KindAssetMissing, Reason: ReasonAssetMissing, Message: msg, Err: err}
}

// KindOf returns the Kind of the first Error in err's chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
