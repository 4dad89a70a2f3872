package tpk

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// VersionType is the release channel letter of an engine version.
type VersionType uint8

const (
	Alpha VersionType = iota
	Beta
	China
	Final
	Patch
	Experimental
)

const versionLetters = "abcfpx"

// Version is an engine version such as 2019.4.3f1. Packed versions order
// the same way as the versions they encode.
type Version struct {
	Major      uint16
	Minor      uint16
	Build      uint16
	Type       VersionType
	TypeNumber uint8
}

var versionPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)(?:([abcfpx])(\d+))?`)

// ParseVersion parses the engine version strings stored in serialized
// files. Trailing suffixes after the type number are ignored.
func ParseVersion(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, errors.Errorf("tpk: bad engine version %q", s)
	}
	var v Version
	nums := []*uint16{&v.Major, &v.Minor, &v.Build}
	for i, p := range nums {
		n, err := strconv.ParseUint(m[i+1], 10, 16)
		if err != nil {
			return Version{}, errors.Wrapf(err, "tpk: engine version %q", s)
		}
		*p = uint16(n)
	}
	v.Type = Final
	if m[4] != "" {
		for i := range versionLetters {
			if versionLetters[i] == m[4][0] {
				v.Type = VersionType(i)
			}
		}
		n, err := strconv.ParseUint(m[5], 10, 8)
		if err != nil {
			return Version{}, errors.Wrapf(err, "tpk: engine version %q", s)
		}
		v.TypeNumber = uint8(n)
	}
	return v, nil
}

// MustParseVersion is ParseVersion for constants.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) Pack() uint64 {
	return uint64(v.Major)<<48 | uint64(v.Minor)<<32 | uint64(v.Build)<<16 |
		uint64(v.Type)<<8 | uint64(v.TypeNumber)
}

func UnpackVersion(p uint64) Version {
	return Version{
		Major:      uint16(p >> 48),
		Minor:      uint16(p >> 32),
		Build:      uint16(p >> 16),
		Type:       VersionType(p >> 8),
		TypeNumber: uint8(p),
	}
}

// Less reports whether v is older than o.
func (v Version) Less(o Version) bool { return v.Pack() < o.Pack() }

// IsZero reports whether the version is the stripped placeholder 0.0.0.
func (v Version) IsZero() bool { return v.Major == 0 && v.Minor == 0 && v.Build == 0 }

func (v Version) String() string {
	letter := byte('f')
	if int(v.Type) < len(versionLetters) {
		letter = versionLetters[v.Type]
	}
	return fmt.Sprintf("%d.%d.%d%c%d", v.Major, v.Minor, v.Build, letter, v.TypeNumber)
}
