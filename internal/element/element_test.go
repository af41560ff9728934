package element

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inputElement() *Element {
	return &Element{
		RequestName:  "req-1",
		TaskName:     "/req-1/Processing",
		InputDataset: "/Prim/Proc-v1/RAW",
		Inputs: []Input{
			{Name: "/Prim/Proc-v1/RAW#b2", Sites: []string{"SiteA", "SiteB"}},
			{Name: "/Prim/Proc-v1/RAW#b1", Sites: []string{"SiteB", "SiteC"}},
		},
		Mask:     &Mask{FirstFile: 1, LastFile: 2},
		DbsURL:   "https://dbs.example/reader",
		Status:   Available,
		Jobs:     2,
		Priority: 100,
	}
}

func TestComputeIDIgnoresMutableFields(t *testing.T) {
	a := inputElement()
	idA, err := a.ComputeID()
	require.NoError(t, err)

	b := a.Clone()
	b.Priority = 1
	b.PercentComplete = 50
	b.Team = "production"
	b.ParentQueueURL = "grpc://global"
	b.ParentQueueID = "abc"
	b.UpdateTime = time.Now()
	b.Inputs[0].Sites = []string{"SiteZ"}
	b.Inputs[0], b.Inputs[1] = b.Inputs[1], b.Inputs[0]
	idB, err := b.ComputeID()
	require.NoError(t, err)
	assert.Equal(t, idA, idB)

	c := a.Clone()
	c.Mask.LastFile = 3
	idC, err := c.ComputeID()
	require.NoError(t, err)
	assert.NotEqual(t, idA, idC)

	d := a.Clone()
	d.ACDC = &ACDC{Server: "https://acdc", Database: "acdcserver", Collection: "req-1", Fileset: "/req-1/Processing"}
	idD, err := d.ComputeID()
	require.NoError(t, err)
	assert.NotEqual(t, idA, idD)
}

func TestComputeIDRequiresNames(t *testing.T) {
	e := inputElement()
	e.RequestName = ""
	_, err := e.ComputeID()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "requestName", ve.Field)

	e = inputElement()
	e.TaskName = ""
	_, err = e.ComputeID()
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestAssignIDIsImmutable(t *testing.T) {
	e := inputElement()
	require.NoError(t, e.AssignID())
	first := e.ID
	require.NoError(t, e.AssignID())
	assert.Equal(t, first, e.ID)

	e.Mask.FirstFile = 9
	assert.ErrorIs(t, e.AssignID(), ErrValidation)
	assert.Equal(t, first, e.ID)
}

func TestValidate(t *testing.T) {
	e := inputElement()
	require.NoError(t, e.Validate())

	e.Jobs = 0
	assert.ErrorIs(t, e.Validate(), ErrValidation)
	e.Status = Negotiating
	assert.NoError(t, e.Validate(), "zero jobs only forbidden while available")

	e = inputElement()
	e.Inputs = nil
	assert.ErrorIs(t, e.Validate(), ErrValidation)

	mc := &Element{RequestName: "mc", TaskName: "/mc/Gen", Status: Available, Jobs: 1, Inputs: []Input{{Name: "x"}}}
	assert.ErrorIs(t, mc.Validate(), ErrValidation)
	mc.Inputs = nil
	assert.NoError(t, mc.Validate())

	e = inputElement()
	e.Jobs = -1
	e.Status = Running
	assert.ErrorIs(t, e.Validate(), ErrValidation)
}

func TestPossibleSites(t *testing.T) {
	e := inputElement()
	assert.Equal(t, []string{"SiteB"}, e.PossibleSites())
	assert.True(t, e.AllowsSite("SiteB"))
	assert.False(t, e.AllowsSite("SiteA"))

	e.SiteBlacklist = []string{"SiteB"}
	assert.Empty(t, e.PossibleSites())

	e = inputElement()
	e.Inputs = e.Inputs[:1]
	e.SiteWhitelist = []string{"SiteA", "SiteC"}
	assert.Equal(t, []string{"SiteA"}, e.PossibleSites())

	mc := &Element{RequestName: "mc", TaskName: "/mc/Gen", SiteBlacklist: []string{"SiteX"}}
	assert.Nil(t, mc.PossibleSites())
	assert.True(t, mc.AllowsSite("Anywhere"))
	assert.False(t, mc.AllowsSite("SiteX"))

	mc.SiteWhitelist = []string{"SiteX", "SiteY"}
	assert.Equal(t, []string{"SiteY"}, mc.PossibleSites())
	assert.False(t, mc.AllowsSite("Anywhere"))
}

func TestNeedsReport(t *testing.T) {
	e := inputElement()
	assert.False(t, e.NeedsReport(), "root elements never report")

	e.ParentQueueID = "parent-id"
	e.ReportedStatus = Acquired
	assert.False(t, e.NeedsReport())

	e.Status = Running
	assert.True(t, e.NeedsReport())
	e.ReportedStatus = Running
	assert.False(t, e.NeedsReport())

	e.PercentComplete = 40
	assert.True(t, e.NeedsReport())
	e.ReportedProgress = 40
	assert.False(t, e.NeedsReport())

	e.Status = CancelRequested
	assert.True(t, e.NeedsReport())
}

func TestCloneIsDeep(t *testing.T) {
	e := inputElement()
	e.SiteWhitelist = []string{"SiteA"}
	c := e.Clone()
	c.Inputs[0].Sites[0] = "Changed"
	c.Mask.FirstFile = 7
	c.SiteWhitelist[0] = "Other"
	assert.Equal(t, "SiteA", e.Inputs[0].Sites[0])
	assert.Equal(t, 1, e.Mask.FirstFile)
	assert.Equal(t, "SiteA", e.SiteWhitelist[0])
}
