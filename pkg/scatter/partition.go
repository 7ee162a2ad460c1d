package scatter

import (
	"encoding/xml"
	"strings"
)

// Element and field names used by MediaTek XML scatter files.
const (
	tagPartition      = "partition"
	tagPartitionIndex = "partition_index"
	tagPartitionName  = "partition_name"
	tagName           = "name"
	tagFileName       = "file_name"
	tagIsDownload     = "is_download"
	tagIsUpgradable   = "is_upgradable"
	tagStorage        = "storage"
	tagStorageType    = "storage_type"

	// noFile is the wire sentinel for "no image"; it never leaves the codec.
	noFile = "NONE"
)

// FlashAction is what the flashing tool does with a partition.
type FlashAction struct {
	flash bool
	file  string
}

// Skip leaves the partition untouched.
func Skip() FlashAction {
	return FlashAction{}
}

// Flash writes the given image file to the partition.
func Flash(file string) FlashAction {
	return FlashAction{flash: true, file: file}
}

func (a FlashAction) IsFlash() bool {
	return a.flash
}

// File returns the image file for a Flash action and "" for Skip.
func (a FlashAction) File() string {
	return a.file
}

// Partition is one entry of a scatter descriptor.
type Partition struct {
	Name       string
	File       string // image file name, "" if none
	Download   bool
	Upgradable bool
	Storage    StorageMedium

	element     xml.Name
	attrs       []xml.Attr
	nameTag     string
	storageText string // verbatim "storage" sub-element, if the source had one
	inherited   bool   // Storage came from the enclosing storage_type element
	extra       []*node
}

// NewPartition returns a partition that is not flashed.
func NewPartition(name string, storage StorageMedium) *Partition {
	return &Partition{
		Name:    name,
		Storage: storage,
	}
}

// Action returns the flash action the tool will take: a partition is only
// flashed when downloading is enabled and it has an image.
func (p *Partition) Action() FlashAction {
	if p.Download && p.File != "" {
		return Flash(p.File)
	}
	return Skip()
}

// SetAction applies a flash action, keeping the upgradable flag in step.
func (p *Partition) SetAction(a FlashAction) {
	p.File = a.File()
	p.Download = a.IsFlash()
	p.Upgradable = a.IsFlash()
}

// Enable makes the partition flashable with the given image.
func (p *Partition) Enable(file string) {
	p.SetAction(Flash(file))
}

// Disable excludes the partition from flashing and drops its image.
func (p *Partition) Disable() {
	p.SetAction(Skip())
}

// Passthrough returns the names of the sub-elements that are carried
// through verbatim, in document order.
func (p *Partition) Passthrough() []string {
	names := make([]string, 0, len(p.extra))
	for _, n := range p.extra {
		names = append(names, n.XMLName.Local)
	}
	return names
}

// PassthroughValue returns the text of the first passthrough sub-element
// with the given name.
func (p *Partition) PassthroughValue(tag string) (string, bool) {
	for _, n := range p.extra {
		if n.XMLName.Local == tag {
			return n.Text, true
		}
	}
	return "", false
}

// SplitSlot splits a partition name into its lower-cased base and A/B slot.
// The slot is "" for names without an "_a"/"_b" suffix.
func SplitSlot(name string) (base, slot string) {
	low := strings.ToLower(strings.TrimSpace(name))
	if len(low) > 2 && (strings.HasSuffix(low, "_a") || strings.HasSuffix(low, "_b")) {
		return low[:len(low)-2], low[len(low)-1:]
	}
	return low, ""
}

// BaseName is the lower-cased partition name without its slot suffix.
func BaseName(name string) string {
	base, _ := SplitSlot(name)
	return base
}
