package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// mappingRecord is a row keyed by a uuid string id.
type mappingRecord interface {
	recordID() string
	setRecordID(id string)
}

func (r *branchMappingRecord) recordID() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.ID)
}

func (r *branchMappingRecord) setRecordID(id string) {
	if r != nil {
		r.ID = id
	}
}

func (r *productMappingRecord) recordID() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.ID)
}

func (r *productMappingRecord) setRecordID(id string) {
	if r != nil {
		r.ID = id
	}
}

// uuidHandlers builds go-repository-bun handlers for a mapping table.
// Ids that are not valid uuids read back as uuid.Nil.
func uuidHandlers[R mappingRecord](newRecord func() R) repository.ModelHandlers[R] {
	return repository.ModelHandlers[R]{
		NewRecord: newRecord,
		GetID: func(record R) uuid.UUID {
			parsed, err := uuid.Parse(record.recordID())
			if err != nil {
				return uuid.Nil
			}
			return parsed
		},
		SetID: func(record R, id uuid.UUID) {
			record.setRecordID(id.String())
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record R) string {
			return record.recordID()
		},
	}
}
