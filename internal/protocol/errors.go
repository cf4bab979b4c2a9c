package protocol

import (
	"errors"
	"fmt"
)

// Code is a protocol result code. Zero is success. Codes are comparable
// values, so errors.Is works on wrapped codes.
type Code uint32

const OK Code = 0

const codeBase Code = 0x2000

// Local taxonomy. These never come from the server.
const (
	ErrBadParameter              Code = codeBase + 0x0001
	ErrTCPWrite                  Code = codeBase + 0x0002
	ErrTCPRead                   Code = codeBase + 0x0003
	ErrProtocol                  Code = codeBase + 0x0004
	ErrSSLRedirect               Code = codeBase + 0x0005
	ErrConferenceNotFound        Code = codeBase + 0x0006
	ErrConferenceNotInstantiated Code = codeBase + 0x0007
	ErrFolderExists              Code = codeBase + 0x0008
)

// Server result codes.
const (
	ErrAccessDenied         Code = 0xD106
	ErrNotSupported         Code = 0xD10A
	ErrPasswordExpired      Code = 0xD10B
	ErrPasswordInvalid      Code = 0xD10C
	ErrUserNotFound         Code = 0xD10D
	ErrUserDisabled         Code = 0xD111
	ErrDirectoryFailure     Code = 0xD112
	ErrHostNotFound         Code = 0xD119
	ErrAdminLocked          Code = 0xD11C
	ErrDuplicateParticipant Code = 0xD11F
	ErrServerBusy           Code = 0xD123
	ErrObjectNotFound       Code = 0xD124
	ErrDirectoryUpdate      Code = 0xD125
	ErrDuplicateFolder      Code = 0xD126
	ErrDuplicateContact     Code = 0xD127
	ErrUserNotAllowed       Code = 0xD128
	ErrTooManyContacts      Code = 0xD129
	ErrConferenceNotFound2  Code = 0xD12B
	ErrTooManyFolders       Code = 0xD12C
	ErrServerProtocol       Code = 0xD130
	ErrConversationInvite   Code = 0xD135
	ErrUserBlocked          Code = 0xD136
	ErrMasterArchiveMissing Code = 0xD137
	ErrPasswordExpired2     Code = 0xD138
	ErrCredentialsMissing   Code = 0xD139
	ErrAuthenticationFailed Code = 0xD149
	ErrEvalConnectionLimit  Code = 0xD14A
)

var codeText = map[Code]string{
	OK:                           "Success",
	ErrBadParameter:              "Required parameters not passed in",
	ErrTCPWrite:                  "Unable to write to network",
	ErrTCPRead:                   "Unable to read from network",
	ErrProtocol:                  "Invalid response from server",
	ErrSSLRedirect:               "Server requested a secure connection",
	ErrConferenceNotFound:        "Conference not found",
	ErrConferenceNotInstantiated: "Conference does not exist",
	ErrFolderExists:              "Folder already exists",
	ErrAccessDenied:              "Access denied",
	ErrNotSupported:              "Not supported",
	ErrPasswordExpired:           "Password expired",
	ErrPasswordExpired2:          "Password expired",
	ErrPasswordInvalid:           "Invalid password",
	ErrUserNotFound:              "User not found",
	ErrUserDisabled:              "User is disabled",
	ErrDirectoryFailure:          "Directory failure",
	ErrHostNotFound:              "Host not found",
	ErrAdminLocked:               "Locked by admin",
	ErrDuplicateParticipant:      "Duplicate participant",
	ErrServerBusy:                "Server busy",
	ErrObjectNotFound:            "Object not found",
	ErrDirectoryUpdate:           "Directory update",
	ErrDuplicateFolder:           "Duplicate folder",
	ErrDuplicateContact:          "Duplicate contact",
	ErrUserNotAllowed:            "User not allowed",
	ErrTooManyContacts:           "Too many contacts",
	ErrConferenceNotFound2:       "Conference not found",
	ErrTooManyFolders:            "Too many folders",
	ErrServerProtocol:            "Server protocol error",
	ErrConversationInvite:        "Conversation invitation error",
	ErrUserBlocked:               "User is blocked",
	ErrMasterArchiveMissing:      "Master archive is missing",
	ErrCredentialsMissing:        "Credentials missing",
	ErrAuthenticationFailed:      "Authentication failed",
	ErrEvalConnectionLimit:       "Eval connection limit",
}

func (c Code) String() string {
	if text, ok := codeText[c]; ok {
		return text
	}
	return fmt.Sprintf("Unknown error: 0x%X", uint32(c))
}

func (c Code) Error() string {
	return "protocol: " + c.String()
}

// CodeOf extracts the Code carried by err. A nil error is OK; an error
// without a Code in its chain is reported as ErrProtocol.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return ErrProtocol
}

// IsDisconnect reports whether err must tear the connection down.
func IsDisconnect(err error) bool {
	return errors.Is(err, ErrTCPWrite) ||
		errors.Is(err, ErrTCPRead) ||
		errors.Is(err, ErrProtocol)
}

// IsCredentialFailure reports whether a login result should suppress
// automatic reconnection.
func IsCredentialFailure(c Code) bool {
	return c == ErrAuthenticationFailed ||
		c == ErrCredentialsMissing ||
		c == ErrPasswordInvalid
}
