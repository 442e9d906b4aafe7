package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestSet(t *testing.T) {
	o := NewStackOptions()
	o.Config.Namespace = "shop"
	o.Config.Replicas = map[string]int{"web": 3}

	set, err := o.ManifestSet()
	require.NoError(t, err)
	assert.Equal(t, "shop", set.Namespace.Name)
	web, ok := set.Unit("web")
	require.True(t, ok)
	assert.Equal(t, int32(3), web.Replicas)
}

func TestManifestSetUnknownUnit(t *testing.T) {
	o := NewStackOptions()
	o.Config.ImageOverrides = map[string]string{"cache": "redis:7"}
	o.Config.Replicas = map[string]int{"cache": 2}

	_, err := o.ManifestSet()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown units in overrides: cache (known: api, db, web)")
}

func TestValidateAggregates(t *testing.T) {
	o := NewStackOptions()
	require.NoError(t, o.Validate())

	o.Config.Namespace = "Not Valid"
	o.Config.ImageTag = ""
	err := o.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image tag must not be empty")
}

func TestFlagsGroups(t *testing.T) {
	fss := NewStackOptions().Flags()
	require.NotNil(t, fss.FlagSet("generic").Lookup("namespace"))
	require.NotNil(t, fss.FlagSet("klog").Lookup("v"))
}
