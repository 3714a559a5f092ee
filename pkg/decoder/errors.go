package decoder

import "errors"

var (
	// ErrInvalidSignature is returned for signatures that are not of the form name(type,...)
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrNoSelector is returned when call data carries no 4-byte selector
	ErrNoSelector = errors.New("no function selector")

	// ErrMalformedData is returned when parameter bytes do not match the signature
	ErrMalformedData = errors.New("malformed parameter data")

	// ErrUnsupportedType is returned for ABI types without a Param representation
	ErrUnsupportedType = errors.New("unsupported abi type")

	// ErrSelectorMismatch is returned when a signature does not hash to the claimed selector
	ErrSelectorMismatch = errors.New("signature does not match selector")

	// ErrTopicMismatch is returned when a log's topics do not fit an event signature
	ErrTopicMismatch = errors.New("log topics do not match event")
)
