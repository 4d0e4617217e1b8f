package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type userRecord struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID             string     `bun:"id,pk"`
	Email          string     `bun:"email,notnull"`
	AirtableUserID string     `bun:"airtable_user_id,notnull"`
	Name           string     `bun:"name,notnull"`
	LastLoginAt    *time.Time `bun:"last_login_at,nullzero"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type credentialRecord struct {
	bun.BaseModel `bun:"table:credentials,alias:c"`

	ID               string    `bun:"id,pk"`
	SubjectID        string    `bun:"subject_id,notnull"`
	UserID           string    `bun:"user_id,notnull"`
	TokenType        string    `bun:"token_type,notnull"`
	EncryptedPayload []byte    `bun:"encrypted_payload,notnull"`
	PayloadFormat    string    `bun:"payload_format,notnull"`
	ExpiresAt        time.Time `bun:"expires_at,nullzero"`
	CreatedAt        time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type formRecord struct {
	bun.BaseModel `bun:"table:forms,alias:f"`

	ID              string            `bun:"id,pk"`
	OwnerID         string            `bun:"owner_id,notnull"`
	AirtableBaseID  string            `bun:"airtable_base_id,notnull"`
	AirtableTableID string            `bun:"airtable_table_id,notnull"`
	BaseName        string            `bun:"base_name"`
	TableName       string            `bun:"table_name"`
	Name            string            `bun:"name,notnull"`
	Description     string            `bun:"description"`
	Published       bool              `bun:"published,notnull"`
	Questions       []questionPayload `bun:"questions,type:jsonb,notnull"`
	CreatedAt       time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type responseRecord struct {
	bun.BaseModel `bun:"table:responses,alias:r"`

	ID                string         `bun:"id,pk"`
	FormID            string         `bun:"form_id,notnull"`
	AirtableRecordID  string         `bun:"airtable_record_id"`
	Answers           map[string]any `bun:"answers,type:jsonb,notnull"`
	SubmittedBy       string         `bun:"submitted_by"`
	Status            string         `bun:"status,notnull"`
	DeletedInAirtable bool           `bun:"deleted_in_airtable,notnull"`
	CreatedAt         time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
