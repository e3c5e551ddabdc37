// Package repository holds the persistence layer: MySQL for users and the
// group catalogue, Redis for short-lived credentials and live session
// tokens.
package repository

import "errors"

// ErrUserNotFound is returned when no user matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// ErrEmailExists is returned when an insert collides with a unique email
// or mobile number.
var ErrEmailExists = errors.New("email already exists")

// ErrGroupNotFound is returned when a group has no catalogue rows.
var ErrGroupNotFound = errors.New("group not found")

// ErrCredentialNotFound is returned when a credential key is absent or
// its TTL has lapsed. Redis does not tell the two apart.
var ErrCredentialNotFound = errors.New("credential not found")
