package api

import (
	"fmt"

	"golang.org/x/xerrors"
)

type Version uint32

func newVer(major, minor, patch uint8) Version {
	return Version(uint32(major)<<16 | uint32(minor)<<8 | uint32(patch))
}

// Ints returns (major, minor, patch) versions
func (ve Version) Ints() (uint32, uint32, uint32) {
	v := uint32(ve)
	return (v & majorOnlyMask) >> 16, (v & minorOnlyMask) >> 8, v & patchOnlyMask
}

func (ve Version) String() string {
	vmj, vmi, vp := ve.Ints()
	return fmt.Sprintf("%d.%d.%d", vmj, vmi, vp)
}

func (ve Version) EqMajorMinor(v2 Version) bool {
	return ve&minorMask == v2&minorMask
}

// ChannelsAPIVersion0 is the version of the operator API served at /rpc/v0
var ChannelsAPIVersion0 = newVer(1, 0, 0)

const (
	minorMask = 0xffff00

	majorOnlyMask = 0xff0000
	minorOnlyMask = 0x00ff00
	patchOnlyMask = 0x0000ff
)

// CheckVersion fails unless remote speaks the same major and minor version.
func CheckVersion(remote Version) error {
	if !remote.EqMajorMinor(ChannelsAPIVersion0) {
		return xerrors.Errorf("remote API version %s is incompatible with %s", remote, ChannelsAPIVersion0)
	}
	return nil
}
