package capability

import "errors"

var (
	// ErrAlreadyRegistered indicates a capability with the same name exists.
	ErrAlreadyRegistered = errors.New("capability already registered")

	// ErrInvalidCapability indicates the definition failed validation.
	ErrInvalidCapability = errors.New("invalid capability")
)
