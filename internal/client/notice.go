package client

import (
	"errors"
	"fmt"

	"github.com/danmuck/groupwire/internal/protocol"
	"github.com/danmuck/groupwire/internal/session"
)

type NoticeKind int

const (
	NoticeInfo NoticeKind = iota
	NoticeError
	// NoticeFatal ends the connection; the client will not reconnect on
	// its own.
	NoticeFatal
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeInfo:
		return "info"
	case NoticeError:
		return "error"
	case NoticeFatal:
		return "fatal"
	}
	return fmt.Sprintf("notice_%d", int(k))
}

// Notice is a user-facing message about something the user did not see
// happen directly.
type Notice struct {
	Kind NoticeKind
	Text string
}

const noticeBuffer = 64

func loginFailed(code protocol.Code) string {
	return fmt.Sprintf("Login failed (%s).", code.String())
}

func detailsFailed(code protocol.Code) string {
	return fmt.Sprintf("Unable to send message. Could not get details for user (%s).", code.String())
}

func userDetailsFailed(who string, code protocol.Code) string {
	return fmt.Sprintf("Could not get details for user %s (%s).", who, code.String())
}

func buddyAddFailed(who string, code protocol.Code) string {
	return fmt.Sprintf("Unable to add %s to your buddy list (%s).", who, code.String())
}

func sendFailed(code protocol.Code) string {
	return fmt.Sprintf("Unable to send message (%s).", code.String())
}

func createConfFailed(who string, code protocol.Code) string {
	return fmt.Sprintf("Unable to send message to %s. Could not create the conference (%s).", who, code.String())
}

func inviteFailed(code protocol.Code) string {
	return fmt.Sprintf("Unable to invite user (%s).", code.String())
}

func offline(who string) string {
	return fmt.Sprintf("%s appears to be offline and did not receive the message that you just sent.", who)
}

func invited(who string) string {
	return fmt.Sprintf("%s has been invited to this conversation.", who)
}

const (
	textConnectFailed = "Unable to connect to server."
	textSSLFailed     = "Unable to make SSL connection to server."
	textCommError     = "Error communicating with server. Closing connection."
	textElsewhere     = "You have been logged out because you logged in at another workstation."
	textServerClosed  = "The server has closed the connection."
	textConfClosed    = "This conference has been closed. No more messages can be sent."
)

// disconnectNotice maps a session teardown reason to what the user sees.
func disconnectNotice(err error) Notice {
	switch {
	case errors.Is(err, session.ErrLoggedInElsewhere):
		return Notice{Kind: NoticeFatal, Text: textElsewhere}
	case errors.Is(err, session.ErrServerShutdown):
		return Notice{Kind: NoticeError, Text: textServerClosed}
	}
	return Notice{Kind: NoticeError, Text: textCommError}
}
