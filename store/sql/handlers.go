package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func userSessionHandlers() repository.ModelHandlers[*userSessionRecord] {
	return repository.ModelHandlers[*userSessionRecord]{
		NewRecord: func() *userSessionRecord {
			return &userSessionRecord{}
		},
		GetID: func(record *userSessionRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *userSessionRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "uid"
		},
		GetIdentifierValue: func(record *userSessionRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.UID)
		},
	}
}

func authEventHandlers() repository.ModelHandlers[*authEventRecord] {
	return repository.ModelHandlers[*authEventRecord]{
		NewRecord: func() *authEventRecord {
			return &authEventRecord{}
		},
		GetID: func(record *authEventRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *authEventRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *authEventRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
