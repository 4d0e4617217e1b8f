package sqlstore

import "github.com/formbridge/formbridge/core"

var (
	_ core.CredentialStore = (*CredentialStore)(nil)
	_ core.UserStore       = (*UserStore)(nil)
	_ core.FormStore       = (*FormStore)(nil)
	_ core.ResponseStore   = (*ResponseStore)(nil)
)
