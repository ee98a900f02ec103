package refdata

import "time"

// Context types found in the hierarchy, from root to leaf.
const (
	TypeInstitution = "institution"
	TypeFaculty     = "faculty"
	TypeInstitute   = "institute"
	TypeCourse      = "course"
	TypeClass       = "class"
)

// Location is a venue records can refer to.
type Location struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Street    string `json:"street"`
	Postcode  string `json:"postcode"`
	City      string `json:"city"`
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
}

// Format is a project format with its labels in both languages.
type Format struct {
	Key string `json:"key"`
	EN  string `json:"en"`
	DE  string `json:"de"`
}

// RawContext is the context tree as delivered by the CMS.
type RawContext struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Type       string       `json:"type"`
	Faculties  []RawContext `json:"faculties,omitempty"`
	Institutes []RawContext `json:"institutes,omitempty"`
	Courses    []RawContext `json:"courses,omitempty"`
	Classes    []RawContext `json:"classes,omitempty"`
}

// ContextRef is a flat reference to one context node.
type ContextRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	DE   string `json:"de,omitempty"`
	EN   string `json:"en,omitempty"`
}

// ContextNode is a context with denormalized references to its ancestors.
type ContextNode struct {
	ContextRef

	// Ancestors lists every ancestor, root first.
	Ancestors []ContextRef `json:"ancestors,omitempty"`

	// Typed ancestor shortcuts; the nearest-to-root ancestor of each type.
	Institution *ContextRef  `json:"institution,omitempty"`
	Faculties   []ContextRef `json:"faculties,omitempty"`
	Institutes  []ContextRef `json:"institutes,omitempty"`
	Courses     []ContextRef `json:"courses,omitempty"`
	Classes     []ContextRef `json:"classes,omitempty"`
}

// Snapshot is one complete, immutable generation of reference data.
// Readers must treat every field as read-only.
type Snapshot struct {
	Locations   []Location             `json:"locations"`
	Formats     []Format               `json:"formats"`
	Contexts    map[string]ContextNode `json:"contexts"`
	LastUpdated time.Time              `json:"last_updated"`
	Fingerprint uint64                 `json:"fingerprint"`
}
