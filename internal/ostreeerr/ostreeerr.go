// Package ostreeerr defines the error taxonomy shared by every layer of the
// repository: object codec, store, fsck, signature verification and
// prepare-root. Callers use errors.Is against the sentinels below rather
// than matching on strings.
package ostreeerr

import (
	"errors"
	"fmt"
)

// Sentinels. Wrap with fmt.Errorf("...: %w", Sentinel) to attach context.
var (
	// ErrNotFound is returned when an object, ref, tag or key lookup misses.
	ErrNotFound = errors.New("not found")

	// ErrInvalidFormat is returned when bytes that are supposed to be a
	// canonical encoding (object header, ref file, config) don't parse.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrCorruption is returned when bytes parse but fail a checksum or
	// structural invariant (unsorted entries, duplicate names, wrong size).
	ErrCorruption = errors.New("corruption detected")

	// ErrIncomplete is returned when a commit's closure has a missing
	// object reachable from it (a partial/shallow checkout).
	ErrIncomplete = errors.New("incomplete object set")

	// ErrSignatureInvalid is returned when commitmeta verification fails
	// under a required-signing policy.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrPolicy is returned when an operation is individually well-formed
	// but violates a caller-configured policy (e.g. require-signed).
	ErrPolicy = errors.New("policy violation")

	// ErrIO wraps unexpected I/O failures distinct from ENOENT.
	ErrIO = errors.New("i/o error")

	// ErrCancelled is returned when a context passed to a long walk is
	// cancelled mid-traversal.
	ErrCancelled = errors.New("operation cancelled")
)

// FatalError is prepare-root's single user-visible failure mode: a message
// meant to reach the kernel log verbatim, with no further classification.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string { return e.Msg }

// Fatalf builds a FatalError the way panic-to-console early-boot code does.
func Fatalf(format string, args ...any) error {
	return &FatalError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf wraps ErrNotFound with context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// InvalidFormatf wraps ErrInvalidFormat with context.
func InvalidFormatf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidFormat)...)
}

// Corruptionf wraps ErrCorruption with context.
func Corruptionf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrCorruption)...)
}

// Incompletef wraps ErrIncomplete with context.
func Incompletef(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrIncomplete)...)
}

// SignatureInvalidf wraps ErrSignatureInvalid with context.
func SignatureInvalidf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrSignatureInvalid)...)
}

// Policyf wraps ErrPolicy with context.
func Policyf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrPolicy)...)
}

// IOf wraps ErrIO with context.
func IOf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrIO)...)
}

// Cancelledf wraps ErrCancelled with context.
func Cancelledf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrCancelled)...)
}
