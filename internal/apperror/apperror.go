// Package apperror holds the closed set of failure kinds the API reports.
// Every kind maps to a stable negative numeric code and a default message;
// clients switch on the code, so codes never change once published.
package apperror

import (
	"errors"
	"fmt"
)

// Kind is the symbolic name of a failure, reported to clients as errorName.
type Kind string

const (
	UnknownError           Kind = "UnknownError"
	UnknownAPI             Kind = "UnknownAPI"
	ValidationError        Kind = "ValidationError"
	NotFound               Kind = "NotFound"
	UserAuthIsNeeded       Kind = "UserAuthIsNeeded"
	TokenIsInvalid         Kind = "TokenIsInvalid"
	UserAuthRenew          Kind = "UserAuthRenew"
	PermissionIsNotAllowed Kind = "PermissionIsNotAllowed"

	UserIsNotFound        Kind = "UserIsNotFound"
	UserAuthIsFail        Kind = "UserAuthIsFail"
	UserVerifyFail        Kind = "UserVerifyFail"
	InvitationCodeFail    Kind = "InvitationCodeFail"
	UserEmailVerified     Kind = "UserEmailVerified"
	InvitationDataFail    Kind = "InvitationDataFail"
	UserRoleNotFound      Kind = "UserRoleNotFound"
	GroupNotMatched       Kind = "GroupNotMatched"
	VerificationCodeError Kind = "VerificationCodeError"
	ResetCodeError        Kind = "ResetCodeError"
	UserMobileVerified    Kind = "UserMobileVerified"
	UserCreateError       Kind = "UserCreateError"
	UserUpdateError       Kind = "UserUpdateError"
	PasswordTempFail      Kind = "PasswordTempFail"
	UserContactMissing    Kind = "UserContactMissing"
	UserDropFail          Kind = "UserDropFail"

	FileUploadFail    Kind = "FileUploadFail"
	MissingUploadFile Kind = "MissingUploadFile"
	NotAnImage        Kind = "NotAnImage"
	AvatarNotFound    Kind = "AvatarNotFound"

	GroupIsExisted   Kind = "GroupIsExisted"
	GroupNotFound    Kind = "GroupNotFound"
	GroupUndecidable Kind = "GroupUndecidable"
	GroupDifferent   Kind = "GroupDifferent"

	RoleIsExisted  Kind = "RoleIsExisted"
	RoleNotFound   Kind = "RoleNotFound"
	RoleRestricted Kind = "RoleRestricted"
	RoleWeightFail Kind = "RoleWeightFail"
	RoleNoDefault  Kind = "RoleNoDefault"

	EmailSendFail Kind = "EmailSendFail"
	SmsSendFail   Kind = "SmsSendFail"

	RedisError    Kind = "RedisError"
	DatabaseError Kind = "DatabaseError"
	QueueError    Kind = "QueueError"
)

// Info is the published code and default message of a Kind.
type Info struct {
	Code    int
	Message string
}

var registry = map[Kind]Info{
	UnknownError:           {-1, "unknown error"},
	UnknownAPI:             {-2, "unknown api"},
	ValidationError:        {-3, "user data validation error"},
	NotFound:               {-4, "data is not found"},
	UserAuthIsNeeded:       {-5, "user authorization is needed"},
	TokenIsInvalid:         {-6, "token is invalid"},
	UserAuthRenew:          {-7, "need to re-log-in due to the authentication has been renew"},
	PermissionIsNotAllowed: {-8, "permission is not allowed"},

	UserIsNotFound:        {-101, "user is not found"},
	UserAuthIsFail:        {-102, "user authentication is fail"},
	UserVerifyFail:        {-103, "user verification is fail"},
	InvitationCodeFail:    {-104, "invitation code is invalid or expired"},
	UserEmailVerified:     {-105, "user`s email has been registered and verified"},
	InvitationDataFail:    {-106, "user data does not match the invitation"},
	UserRoleNotFound:      {-107, "user role is not found"},
	GroupNotMatched:       {-108, "group is not matched"},
	VerificationCodeError: {-109, "verification code is invalid or expired"},
	ResetCodeError:        {-110, "reset code is invalid or expired"},
	UserMobileVerified:    {-111, "user`s mobile has been registered and verified"},
	UserCreateError:       {-112, "user creation is fail"},
	UserUpdateError:       {-113, "user update is fail"},
	PasswordTempFail:      {-114, "temporary password is fail"},
	UserContactMissing:    {-115, "email or mobile is required"},
	UserDropFail:          {-116, "user drop is fail"},

	FileUploadFail:    {-201, "file upload is fail"},
	MissingUploadFile: {-204, "missing upload file"},
	NotAnImage:        {-205, "uploaded file is not an image"},
	AvatarNotFound:    {-206, "avatar is not found"},

	GroupIsExisted:   {-301, "group is existed"},
	GroupNotFound:    {-302, "group is not found"},
	GroupUndecidable: {-303, "group is undecidable"},
	GroupDifferent:   {-304, "group is different"},

	RoleIsExisted:  {-401, "role is existed"},
	RoleNotFound:   {-402, "role is not found"},
	RoleRestricted: {-403, "the role is restricted to run the api"},
	RoleWeightFail: {-404, "role weight is fail"},
	RoleNoDefault:  {-405, "There is no default role found, default role not set"},

	EmailSendFail: {-601, "email sending is fail"},
	SmsSendFail:   {-602, "sms sending is fail"},

	RedisError:    {-701, "redis error"},
	DatabaseError: {-702, "database error"},
	QueueError:    {-703, "queue error"},
}

// Lookup returns the code and message of kind. Unregistered kinds resolve
// to UnknownError.
func Lookup(kind Kind) (Kind, Info) {
	if info, ok := registry[kind]; ok {
		return kind, info
	}
	return UnknownError, registry[UnknownError]
}

// Kinds returns every registered kind.
func Kinds() []Kind {
	out := make([]Kind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	return out
}

// Error is a failure carrying its taxonomy entry plus optional detail.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Detail  string
	Err     error
}

// New builds an Error for kind.
func New(kind Kind) *Error {
	k, info := Lookup(kind)
	return &Error{Kind: k, Code: info.Code, Message: info.Message}
}

// Newf builds an Error for kind with a formatted detail.
func Newf(kind Kind, format string, args ...any) *Error {
	e := New(kind)
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// Wrap builds an Error for kind around cause. The cause text becomes the detail.
func Wrap(kind Kind, cause error) *Error {
	e := New(kind)
	if cause != nil {
		e.Err = cause
		e.Detail = cause.Error()
	}
	return e
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Message
	}
	return e.Message + ", " + e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

// From converts any error into an *Error. Errors outside the taxonomy
// become UnknownError wrapping the original.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Wrap(UnknownError, err)
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}
