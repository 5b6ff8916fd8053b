package document

// Field names shared by every persisted document. Drivers map these to their
// native representation (bson keys for mongo, columns for sql).
const (
	FieldID             = "_id"
	FieldOrganizationID = "organizationId"
	FieldIsDeleted      = "isDeleted"
)

// Document is any persisted entity with a stable identifier and a soft-delete flag.
type Document[ID comparable] interface {
	DocumentID() ID
	SoftDeleted() bool
}

// OrganizationDocument is a Document owned by exactly one tenant.
// AssignOrganization is only called by the repository when the document is created.
type OrganizationDocument[ID comparable] interface {
	Document[ID]
	OrganizationID() string
	AssignOrganization(id string)
}

// Base carries the identity and soft-delete state of a document.
// Embed it with `bson:",inline"` so the fields stay at the top level.
type Base[ID comparable] struct {
	ID        ID   `bson:"_id" json:"id"`
	IsDeleted bool `bson:"isDeleted" json:"isDeleted"`
}

// DocumentID returns the document identifier.
func (b *Base[ID]) DocumentID() ID {
	return b.ID
}

// SoftDeleted reports whether the document is flagged as deleted.
func (b *Base[ID]) SoftDeleted() bool {
	return b.IsDeleted
}

// OrganizationBase is Base plus the owning tenant identifier.
type OrganizationBase[ID comparable] struct {
	Base[ID]     `bson:",inline"`
	Organization string `bson:"organizationId" json:"organizationId"`
}

// OrganizationID returns the owning tenant.
func (b *OrganizationBase[ID]) OrganizationID() string {
	return b.Organization
}

// AssignOrganization sets the owning tenant if none has been set yet.
// A document's tenant is never reassigned once present.
func (b *OrganizationBase[ID]) AssignOrganization(id string) {
	if b.Organization == "" {
		b.Organization = id
	}
}
