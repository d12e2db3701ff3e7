package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseSpec() *SandboxSpec {
	s := &SandboxSpec{Name: "demo", Image: "alpine:3.20"}
	s.Normalize()
	return s
}

func TestBuildWorkloadLabelCoherence(t *testing.T) {
	w := BuildWorkload(baseSpec())
	assert.Equal(t, w.Labels[labelSandbox], w.Spec.Template.Labels[labelSandbox])
	assert.Equal(t, w.Spec.Selector.MatchLabels[labelApp], w.Spec.Template.Labels[labelApp])
}

func TestBuildWorkloadIdempotent(t *testing.T) {
	spec := baseSpec()
	a := BuildWorkload(spec)
	b := BuildWorkload(spec)
	assert.Equal(t, a, b)
}

func TestBuildIngressDenyPolicyAlwaysPresent(t *testing.T) {
	spec := baseSpec()
	policy := BuildIngressDenyPolicy(spec)
	require.NotNil(t, policy)
	assert.Empty(t, policy.Spec.Ingress)
	require.Len(t, policy.Spec.PolicyTypes, 1)
	assert.EqualValues(t, "Ingress", policy.Spec.PolicyTypes[0])
}

func TestBuildEgressPolicyAbsentWhenOpen(t *testing.T) {
	spec := baseSpec()
	assert.Nil(t, BuildEgressPolicy(spec))
}

func TestBuildEgressPolicyBlockAllAddsOnlyDNSRule(t *testing.T) {
	spec := baseSpec()
	empty := []string{}
	spec.EgressWhitelist = &empty
	policy := BuildEgressPolicy(spec)
	require.NotNil(t, policy)
	assert.Len(t, policy.Spec.Egress, 1)
}

func TestBuildEgressPolicyAllowAppendsDNSLast(t *testing.T) {
	spec := baseSpec()
	cidrs := []string{"10.0.0.0/8", "192.168.1.0/24"}
	spec.EgressWhitelist = &cidrs
	policy := BuildEgressPolicy(spec)
	require.NotNil(t, policy)
	require.Len(t, policy.Spec.Egress, 3)
	assert.NotNil(t, policy.Spec.Egress[2].To[0].NamespaceSelector)
}

func TestMainCommandRewrite(t *testing.T) {
	spec := baseSpec()
	assert.Equal(t, []string{"sleep", "365d"}, mainCommand(spec))

	spec.BeforeScript = "pip install numpy"
	cmd := mainCommand(spec)
	require.Len(t, cmd, 3)
	assert.Contains(t, cmd[2], beforeDoneSentinel)
	assert.Contains(t, cmd[2], spec.BeforeScript)
}

func TestDropCapabilitiesDefaultsToAll(t *testing.T) {
	spec := baseSpec()
	assert.Equal(t, []string{"ALL"}, spec.DropCapabilities())

	custom := []string{"net_raw"}
	spec.CapDrop = &custom
	assert.Equal(t, []string{"NET_RAW"}, spec.DropCapabilities())
}

func TestValidateRejectsBadLimit(t *testing.T) {
	spec := baseSpec()
	spec.Limits = map[string]string{"cpu": "not-a-quantity"}
	assert.Error(t, spec.Validate())
}

func TestValidateRejectsBadName(t *testing.T) {
	spec := &SandboxSpec{Name: "Not_Valid!", Image: "alpine"}
	assert.Error(t, spec.Validate())
}
