package layershim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obinnaokechukwu/layershim/chain"
	"github.com/obinnaokechukwu/layershim/dispatch"
)

func namedResolver(tag uintptr) dispatch.ProcAddrFunc {
	return func(object uintptr, name string) dispatch.Proc {
		return dispatch.ProcFunc(func(args ...uintptr) uintptr { return tag })
	}
}

func TestNextInstanceProcAddrs_AdvancesLink(t *testing.T) {
	second := &InstanceLink{NextGetInstanceProcAddr: namedResolver(2)}
	first := &InstanceLink{Next: second, NextGetInstanceProcAddr: namedResolver(1), NextGetPhysicalDeviceProcAddr: namedResolver(11)}
	info := &LoaderInstanceInfo{Function: LayerLinkInfo, LayerInfo: first}

	head := &chain.Struct{
		Type:  chain.StructureTypeLoaderInstanceCreateInfo,
		Value: &LoaderInstanceInfo{Function: LoaderDataCallback},
		Next:  &chain.Struct{Type: chain.StructureTypeLoaderInstanceCreateInfo, Value: info},
	}

	gipa, gpdpa, err := NextInstanceProcAddrs(head)
	require.NoError(t, err)
	assert.Equal(t, uintptr(1), gipa(0, "x").Call())
	assert.Equal(t, uintptr(11), gpdpa(0, "x").Call())
	assert.Same(t, second, info.LayerInfo, "link advanced for the next layer")

	gipa, _, err = NextInstanceProcAddrs(head)
	require.NoError(t, err)
	assert.Equal(t, uintptr(2), gipa(0, "x").Call())

	_, _, err = NextInstanceProcAddrs(head)
	assert.ErrorIs(t, err, ErrNoLink, "end of the layer list")
}

func TestNextInstanceProcAddrs_Missing(t *testing.T) {
	_, _, err := NextInstanceProcAddrs(nil)
	assert.ErrorIs(t, err, ErrNoLink)

	head := &chain.Struct{Type: chain.StructureTypeLoaderDeviceCreateInfo, Value: &LoaderDeviceInfo{}}
	_, _, err = NextInstanceProcAddrs(head)
	assert.ErrorIs(t, err, ErrNoLink)
}

func TestNextDeviceProcAddr(t *testing.T) {
	info := &LoaderDeviceInfo{Function: LayerLinkInfo, LayerInfo: &DeviceLink{
		NextGetInstanceProcAddr: namedResolver(1),
		NextGetDeviceProcAddr:   namedResolver(2),
	}}
	head := &chain.Struct{Type: chain.StructureTypeLoaderDeviceCreateInfo, Value: info}

	gipa, gdpa, err := NextDeviceProcAddr(head)
	require.NoError(t, err)
	assert.Equal(t, uintptr(1), gipa(0, "x").Call())
	assert.Equal(t, uintptr(2), gdpa(0, "x").Call())
	assert.Nil(t, info.LayerInfo)

	_, _, err = NextDeviceProcAddr(head)
	assert.ErrorIs(t, err, ErrNoLink)
}
