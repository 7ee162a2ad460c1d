package scatter

import (
	"fmt"
	"strings"
)

// StorageMedium is the flash medium a partition entry targets. Vendor
// descriptors for dual-medium platforms carry the same partition twice,
// once per medium.
type StorageMedium uint64

const (
	StorageUnspecified StorageMedium = iota
	StorageEMMC
	StorageUFS
)

func (s StorageMedium) String() string {
	switch s {
	case StorageUnspecified:
		return ""
	case StorageEMMC:
		return "EMMC"
	case StorageUFS:
		return "UFS"
	default:
		panic(fmt.Sprintf("unknown or unsupported storage medium with enum value %d", s))
	}
}

// wireName is the value written into a "storage" sub-element.
func (s StorageMedium) wireName() string {
	if s == StorageUnspecified {
		return ""
	}
	return "HW_STORAGE_" + s.String()
}

func NewStorageMedium(s string) (StorageMedium, error) {
	switch s {
	case "":
		return StorageUnspecified, nil
	case "EMMC":
		return StorageEMMC, nil
	case "UFS":
		return StorageUFS, nil
	default:
		return StorageUnspecified, fmt.Errorf("unknown or unsupported storage medium name: %s", s)
	}
}

// parseStorageMedium is lenient: vendors spell the medium as "EMMC",
// "HW_STORAGE_EMMC", "emmc" and so on.
func parseStorageMedium(s string) StorageMedium {
	up := strings.ToUpper(strings.TrimSpace(s))
	switch {
	case strings.Contains(up, "UFS"):
		return StorageUFS
	case strings.Contains(up, "EMMC"):
		return StorageEMMC
	default:
		return StorageUnspecified
	}
}
