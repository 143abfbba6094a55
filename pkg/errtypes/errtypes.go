// Copyright 2025 Softwell S.r.l.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errtypes contains definitions for common errors.
// It would have been nice to call this package errors, err or error
// but errors clashes with github.com/pkg/errors, err is used for any
// error variable and error is a reserved word :)
package errtypes

// NotFound is the error to use when a resource is not found.
type NotFound string

func (e NotFound) Error() string { return "error: not found: " + string(e) }

// IsNotFound implements the IsNotFound interface.
func (e NotFound) IsNotFound() {}

// AlreadyExists is the error to use when a resource already exists.
type AlreadyExists string

func (e AlreadyExists) Error() string { return "error: already exists: " + string(e) }

// IsAlreadyExists implements the IsAlreadyExists interface.
func (e AlreadyExists) IsAlreadyExists() {}

// InvalidCredentials is the error to use when receiving invalid credentials.
type InvalidCredentials string

func (e InvalidCredentials) Error() string { return "error: invalid credentials: " + string(e) }

// IsInvalidCredentials implements the IsInvalidCredentials interface.
func (e InvalidCredentials) IsInvalidCredentials() {}

// Expired is the error to use when a token or a session is past its expiry.
type Expired string

func (e Expired) Error() string { return "error: expired: " + string(e) }

// IsExpired implements the IsExpired interface.
func (e Expired) IsExpired() {}

// PermissionDenied is the error to use when an operation is not allowed
// for the presented credentials.
type PermissionDenied string

func (e PermissionDenied) Error() string { return "error: permission denied: " + string(e) }

// IsPermissionDenied implements the IsPermissionDenied interface.
func (e PermissionDenied) IsPermissionDenied() {}

// Disabled is the error to use when a tenant or its editor is switched off.
type Disabled string

func (e Disabled) Error() string { return "error: disabled: " + string(e) }

// IsDisabled implements the IsDisabled interface.
func (e Disabled) IsDisabled() {}

// NotSupported is the error to use when a backend does not have the
// capability for the requested action.
type NotSupported string

func (e NotSupported) Error() string { return "error: not supported: " + string(e) }

// IsNotSupported implements the IsNotSupported interface.
func (e NotSupported) IsNotSupported() {}

// BadRequest is the error to use when the request cannot be parsed
// or misses required arguments.
type BadRequest string

func (e BadRequest) Error() string { return "error: bad request: " + string(e) }

// IsBadRequest implements the IsBadRequest interface.
func (e BadRequest) IsBadRequest() {}

// Locked is the error to use when a file is locked by another lock id.
// The value holds the current lock id so the boundary can surface it
// in the X-WOPI-Lock response header.
type Locked string

func (e Locked) Error() string { return "error: locked by: " + string(e) }

// LockID returns the id of the lock currently held.
func (e Locked) LockID() string { return string(e) }

// IsLocked implements the IsLocked interface.
func (e Locked) IsLocked() {}

// InternalError is the error to use when an unexpected failure happens.
type InternalError string

func (e InternalError) Error() string { return "internal error: " + string(e) }

// IsInternalError implements the IsInternalError interface.
func (e InternalError) IsInternalError() {}

// IsNotFound is the interface to implement
// to specify that a resource is not found.
type IsNotFound interface {
	IsNotFound()
}

// IsAlreadyExists is the interface to implement
// to specify that a resource already exists.
type IsAlreadyExists interface {
	IsAlreadyExists()
}

// IsInvalidCredentials is the interface to implement
// to specify that credentials were wrong.
type IsInvalidCredentials interface {
	IsInvalidCredentials()
}

// IsExpired is the interface to implement
// to specify that a credential or session expired.
type IsExpired interface {
	IsExpired()
}

// IsPermissionDenied is the interface to implement
// to specify that an action is denied.
type IsPermissionDenied interface {
	IsPermissionDenied()
}

// IsDisabled is the interface to implement
// to specify that a tenant or editor is disabled.
type IsDisabled interface {
	IsDisabled()
}

// IsNotSupported is the interface to implement
// to specify that an action is not supported.
type IsNotSupported interface {
	IsNotSupported()
}

// IsBadRequest is the interface to implement
// to specify that the request is malformed.
type IsBadRequest interface {
	IsBadRequest()
}

// IsLocked is the interface to implement
// to specify that a file is locked.
type IsLocked interface {
	IsLocked()
}

// IsInternalError is the interface to implement
// to specify that an unexpected failure happened.
type IsInternalError interface {
	IsInternalError()
}
