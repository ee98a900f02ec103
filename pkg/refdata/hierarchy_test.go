package refdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() *RawContext {
	return &RawContext{
		ID: "inst", Name: "Hochschule", Type: TypeInstitution,
		Faculties: []RawContext{
			{
				ID: "fac-design", Name: "Gestaltung", Type: TypeFaculty,
				Institutes: []RawContext{
					{
						ID: "ins-media", Name: "Medien", Type: TypeInstitute,
						Courses: []RawContext{
							{
								ID: "course-ux", Name: "UX", Type: TypeCourse,
								Classes: []RawContext{
									{ID: "class-1", Name: "Klasse 1", Type: TypeClass},
								},
							},
						},
					},
				},
			},
			{ID: "fac-tech", Name: "Technik", Type: TypeFaculty},
			{ID: "", Name: "orphan", Type: TypeFaculty, Courses: []RawContext{{ID: "hidden", Type: TypeCourse}}},
		},
	}
}

func TestBuildContextIndex(t *testing.T) {
	index := BuildContextIndex(sampleTree())

	require.Len(t, index, 6)
	assert.NotContains(t, index, "hidden", "subtree of a node without id is skipped")

	root := index["inst"]
	assert.Empty(t, root.Ancestors)
	assert.Nil(t, root.Institution)

	leaf := index["class-1"]
	assert.Equal(t, "Klasse 1", leaf.DE)
	assert.Equal(t, "Klasse 1", leaf.EN)
	require.Len(t, leaf.Ancestors, 4)
	assert.Equal(t, []string{"inst", "fac-design", "ins-media", "course-ux"}, ids(leaf.Ancestors))

	require.NotNil(t, leaf.Institution)
	assert.Equal(t, "inst", leaf.Institution.ID)
	assert.Equal(t, "fac-design", leaf.Faculties[0].ID)
	assert.Equal(t, "ins-media", leaf.Institutes[0].ID)
	assert.Equal(t, "course-ux", leaf.Courses[0].ID)
	assert.Empty(t, leaf.Classes)

	sibling := index["fac-tech"]
	assert.Equal(t, []string{"inst"}, ids(sibling.Ancestors), "siblings must not share ancestor chains")
	assert.Empty(t, sibling.Faculties)
}

func TestBuildContextIndex_Nil(t *testing.T) {
	assert.Empty(t, BuildContextIndex(nil))
	assert.Empty(t, BuildContextIndex(&RawContext{}))
}

func ids(refs []ContextRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.ID
	}
	return out
}
