package scatter

import (
	"bytes"
	"encoding/xml"
	"os"
	"path/filepath"
)

// Marshal serializes the table back to scatter markup.
//
// Everything outside partition entries is written as it was read. Partition
// entries are written in document order with a fixed child order:
//
//  1. the name element (partition_name, or name if the source used that)
//  2. file_name ("NONE" when the partition has no image)
//  3. is_download
//  4. is_upgradable
//  5. storage, when the source entry had one or the medium was set on a
//     partition that is not inside a storage_type group
//  6. all other sub-elements, verbatim and in their original order
func Marshal(t *Table) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := encodeNode(enc, t.root); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Write serializes the table to path. The file is replaced atomically so a
// failed write never leaves a truncated descriptor behind.
func Write(t *Table, path string) error {
	data, err := Marshal(t)
	if err != nil {
		return &IOError{Op: "marshal", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".scatter-*.tmp")
	if err != nil {
		return &IOError{Op: "create", Path: path, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	// #nosec G302
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return &IOError{Op: "chmod", Path: path, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

func encodeNode(enc *xml.Encoder, n *node) error {
	if n.partition != nil {
		return encodePartition(enc, n.partition)
	}

	start := xml.StartElement{Name: n.XMLName, Attr: n.Attrs}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if n.Text != "" {
		if err := enc.EncodeToken(xml.CharData(n.Text)); err != nil {
			return err
		}
	}
	for _, c := range n.Children {
		if err := encodeNode(enc, c); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

func encodeLeaf(enc *xml.Encoder, tag, text string) error {
	start := xml.StartElement{Name: xml.Name{Local: tag}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if text != "" {
		if err := enc.EncodeToken(xml.CharData(text)); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

type leaf struct {
	tag  string
	text string
}

func encodePartition(enc *xml.Encoder, p *Partition) error {
	start := xml.StartElement{Name: p.element, Attr: p.attrs}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}

	fields := []leaf{
		{p.nameTag, p.Name},
		{tagFileName, encodeFile(p.File)},
		{tagIsDownload, encodeBool(p.Download)},
		{tagIsUpgradable, encodeBool(p.Upgradable)},
	}
	switch {
	case p.storageText != "":
		fields = append(fields, leaf{tagStorage, p.storageText})
	case !p.inherited && p.Storage != StorageUnspecified:
		fields = append(fields, leaf{tagStorage, p.Storage.wireName()})
	}
	for _, f := range fields {
		if err := encodeLeaf(enc, f.tag, f.text); err != nil {
			return err
		}
	}

	for _, c := range p.extra {
		if err := encodeNode(enc, c); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}
