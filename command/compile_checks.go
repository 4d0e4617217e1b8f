package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[BeginAuthorizationMessage]  = (*BeginAuthorizationCommand)(nil)
	_ gocmd.Commander[CompleteCallbackMessage]    = (*CompleteCallbackCommand)(nil)
	_ gocmd.Commander[RefreshCredentialMessage]   = (*RefreshCredentialCommand)(nil)
	_ gocmd.Commander[SubmitResponseMessage]      = (*SubmitResponseCommand)(nil)
	_ gocmd.Commander[ProcessNotificationMessage] = (*ProcessNotificationCommand)(nil)
)
