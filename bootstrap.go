package layershim

import (
	"github.com/obinnaokechukwu/layershim/chain"
	"github.com/obinnaokechukwu/layershim/dispatch"
)

// LayerFunction says what a loader create-info record carries.
type LayerFunction int32

const (
	// LayerLinkInfo records point at the next layer's link.
	LayerLinkInfo LayerFunction = iota
	LoaderDataCallback
	LoaderLayerCreateDeviceCallback
	LoaderFeatures
)

// InstanceLink is one element of the loader's instance layer list.
type InstanceLink struct {
	Next                          *InstanceLink
	NextGetInstanceProcAddr       dispatch.ProcAddrFunc
	NextGetPhysicalDeviceProcAddr dispatch.ProcAddrFunc
}

// DeviceLink is one element of the loader's device layer list.
type DeviceLink struct {
	Next                    *DeviceLink
	NextGetInstanceProcAddr dispatch.ProcAddrFunc
	NextGetDeviceProcAddr   dispatch.ProcAddrFunc
}

// LoaderInstanceInfo is the payload of a StructureTypeLoaderInstanceCreateInfo record.
type LoaderInstanceInfo struct {
	Function  LayerFunction
	LayerInfo *InstanceLink
}

// LoaderDeviceInfo is the payload of a StructureTypeLoaderDeviceCreateInfo record.
type LoaderDeviceInfo struct {
	Function  LayerFunction
	LayerInfo *DeviceLink
}

// NextInstanceProcAddrs finds the link info in an instance create-info
// chain, returns the next layer's resolvers and advances the link so the
// next layer finds its own.
func NextInstanceProcAddrs(head *chain.Struct) (getInstanceProcAddr, getPhysicalDeviceProcAddr dispatch.ProcAddrFunc, err error) {
	s := chain.FindFunc(head, func(s *chain.Struct) bool {
		info, ok := s.Value.(*LoaderInstanceInfo)
		return ok && s.Type == chain.StructureTypeLoaderInstanceCreateInfo && info.Function == LayerLinkInfo
	})
	if s == nil {
		return nil, nil, ErrNoLink
	}
	info := s.Value.(*LoaderInstanceInfo)
	link := info.LayerInfo
	if link == nil || link.NextGetInstanceProcAddr == nil {
		return nil, nil, ErrNoLink
	}
	info.LayerInfo = link.Next
	return link.NextGetInstanceProcAddr, link.NextGetPhysicalDeviceProcAddr, nil
}

// NextDeviceProcAddr is NextInstanceProcAddrs for device create-info chains.
func NextDeviceProcAddr(head *chain.Struct) (getInstanceProcAddr, getDeviceProcAddr dispatch.ProcAddrFunc, err error) {
	s := chain.FindFunc(head, func(s *chain.Struct) bool {
		info, ok := s.Value.(*LoaderDeviceInfo)
		return ok && s.Type == chain.StructureTypeLoaderDeviceCreateInfo && info.Function == LayerLinkInfo
	})
	if s == nil {
		return nil, nil, ErrNoLink
	}
	info := s.Value.(*LoaderDeviceInfo)
	link := info.LayerInfo
	if link == nil || link.NextGetDeviceProcAddr == nil {
		return nil, nil, ErrNoLink
	}
	info.LayerInfo = link.Next
	return link.NextGetInstanceProcAddr, link.NextGetDeviceProcAddr, nil
}
