package scatter

import (
	"encoding/xml"
	"strings"
)

// node is a generic markup element. Everything that is not a partition is
// kept as a node tree so it can be written back unchanged.
type node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []*node    `xml:",any"`

	// set when the element is a partition entry, the partition then
	// owns the element's content
	partition *Partition
}

func (n *node) child(tag string) *node {
	for _, c := range n.Children {
		if c.XMLName.Local == tag {
			return c
		}
	}
	return nil
}

func (n *node) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// Table is an ordered partition table together with the descriptor
// document it was read from.
type Table struct {
	root       *node
	partitions []*Partition
}

// NewTable creates a table for a fresh descriptor document with the given
// partitions as direct children of the root element.
func NewTable(parts ...*Partition) *Table {
	t := &Table{
		root: &node{XMLName: xml.Name{Local: "scatter"}},
	}
	for _, p := range parts {
		if p.element.Local == "" {
			p.element = xml.Name{Local: tagPartition}
		}
		if p.nameTag == "" {
			p.nameTag = tagPartitionName
		}
		t.root.Children = append(t.root.Children, &node{XMLName: p.element, partition: p})
		t.partitions = append(t.partitions, p)
	}
	return t
}

// Partitions returns all partitions in document order.
func (t *Table) Partitions() []*Partition {
	return t.partitions
}

func (t *Table) Len() int {
	return len(t.partitions)
}

// Find returns the first partition with the given name, compared
// case-insensitively, or nil.
func (t *Table) Find(name string) *Partition {
	for _, p := range t.partitions {
		if strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(name)) {
			return p
		}
	}
	return nil
}

// FindAll returns every partition with the given name. Dual-medium
// descriptors list a name once per storage medium.
func (t *Table) FindAll(name string) []*Partition {
	var res []*Partition
	for _, p := range t.partitions {
		if strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(name)) {
			res = append(res, p)
		}
	}
	return res
}

// ByStorageAndBase groups partitions by storage medium and lower-cased base
// name (slot suffix stripped). Each group keeps document order.
func (t *Table) ByStorageAndBase() map[StorageMedium]map[string][]*Partition {
	res := map[StorageMedium]map[string][]*Partition{}
	for _, p := range t.partitions {
		bases := res[p.Storage]
		if bases == nil {
			bases = map[string][]*Partition{}
			res[p.Storage] = bases
		}
		base := BaseName(p.Name)
		bases[base] = append(bases[base], p)
	}
	return res
}
