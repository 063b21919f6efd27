package sed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ied "github.com/rgoose90/ied"
)

func TestLoadScenarioF(t *testing.T) {
	cbs, err := Load("testdata/scenario_f.sed.xml")
	require.NoError(t, err)
	require.Len(t, cbs, 1)

	cb := cbs[0]
	assert.Equal(t, ied.KindGOOSE, cb.Kind)
	assert.Equal(t, "IED1", cb.HostIED)
	assert.Equal(t, "LD0/LLN0.gcb01", cb.CBName)
	assert.Equal(t, "LD0/LLN0.ds01", cb.DatSetName)
	assert.Equal(t, []string{
		"IED1.MMXU.A.phsA",
		"IED1.MMXU.A.phsB",
		"IED1.MMXU.A.phsC",
	}, cb.DatSetMembers)
	assert.Equal(t, []string{"IED2", "IED3"}, cb.Subscribers)
	assert.Equal(t, "239.192.0.1", cb.MulticastIP.String())
	assert.EqualValues(t, 0x1001, cb.AppID)

	require.NoError(t, cb.Validate())
}

// TestLoadScenarioSV exercises an SMV control block whose SCL carries a
// datSet attribute, the normal real-world case — this must load and
// validate cleanly, with DatSetName left unset, since §3 defines no role
// for datSet in the SV PDU.
func TestLoadScenarioSV(t *testing.T) {
	cbs, err := Load("testdata/scenario_sv.sed.xml")
	require.NoError(t, err)
	require.Len(t, cbs, 1)

	cb := cbs[0]
	assert.Equal(t, ied.KindSV, cb.Kind)
	assert.Equal(t, "IED1", cb.HostIED)
	assert.Equal(t, "LD0/LLN0.svcb01", cb.CBName)
	assert.Empty(t, cb.DatSetName)
	assert.Empty(t, cb.DatSetMembers)
	assert.Equal(t, []string{"IED2"}, cb.Subscribers)
	assert.Equal(t, "239.192.0.2", cb.MulticastIP.String())
	assert.EqualValues(t, 0x4001, cb.AppID)

	require.NoError(t, cb.Validate())
}

func TestLoadRejectsWrongRoot(t *testing.T) {
	_, err := Load("testdata/not_scl.xml")
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load("testdata/does_not_exist.xml")
	assert.Error(t, err)
}
