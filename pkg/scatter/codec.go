package scatter

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decrypter turns a vendor scatter container into plaintext markup.
type Decrypter interface {
	Decrypt(raw []byte) ([]byte, error)
}

// DecrypterFunc adapts a function to the Decrypter interface.
type DecrypterFunc func(raw []byte) ([]byte, error)

func (f DecrypterFunc) Decrypt(raw []byte) ([]byte, error) {
	return f(raw)
}

// ExecCommand is mockable version of os/exec.Command
var ExecCommand = exec.Command

// ExecDecrypter pipes the container through an external helper program
// that writes the plaintext descriptor to stdout.
type ExecDecrypter struct {
	Command string
	Args    []string
}

func (d *ExecDecrypter) Decrypt(raw []byte) ([]byte, error) {
	if d.Command == "" {
		return nil, fmt.Errorf("no decrypt helper configured")
	}
	/* #nosec G204 */
	cmd := ExecCommand(d.Command, d.Args...)
	cmd.Stdin = bytes.NewReader(raw)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w\nstderr:\n%s", d.Command, err, stderr.String())
	}
	return out, nil
}

var plaintextMarkers = [][]byte{
	[]byte("<scatter"),
	[]byte("<partition_index"),
	[]byte("<partition"),
}

// stripBOM drops a UTF-8 byte order mark and converts UTF-16 input with a
// BOM to UTF-8. Input without a BOM is returned unchanged.
func stripBOM(raw []byte) []byte {
	out, _, err := transform.Bytes(unicode.BOMOverride(encoding.Nop.NewDecoder()), raw)
	if err != nil {
		return raw
	}
	return out
}

// IsPlaintext reports whether raw is already plaintext scatter markup.
func IsPlaintext(raw []byte) bool {
	text := stripBOM(raw)
	if !utf8.Valid(text) {
		return false
	}
	for _, m := range plaintextMarkers {
		if bytes.Contains(text, m) {
			return true
		}
	}
	return false
}

// Plaintext returns the plaintext markup for raw, running it through the
// decrypter if it is not plaintext already. The second return value
// reports whether decryption was needed.
func Plaintext(raw []byte, dec Decrypter) ([]byte, bool, error) {
	if IsPlaintext(raw) {
		return stripBOM(raw), false, nil
	}
	if dec == nil {
		return nil, true, &DecryptError{Err: errors.New("input is not plaintext and no decrypter is available")}
	}
	plain, err := dec.Decrypt(raw)
	if err != nil {
		return nil, true, &DecryptError{Err: err}
	}
	return stripBOM(plain), true, nil
}

// Decode turns a scatter container into a partition table. It does not
// touch the filesystem.
func Decode(raw []byte, dec Decrypter) (*Table, error) {
	plain, decrypted, err := Plaintext(raw, dec)
	if err != nil {
		return nil, err
	}
	t, err := Parse(plain)
	if err != nil {
		var fe *FormatError
		if errors.As(err, &fe) {
			fe.Decrypted = decrypted
		}
		return nil, err
	}
	return t, nil
}

// charsetReader decodes legacy single-byte encodings. UTF-16 input has
// already been converted by stripBOM, only its declaration is left.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	if strings.HasPrefix(strings.ToLower(label), "utf-16") {
		return input, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, err
	}
	return enc.NewDecoder().Reader(input), nil
}

// Parse parses plaintext scatter markup.
func Parse(plain []byte) (*Table, error) {
	if len(bytes.TrimSpace(plain)) == 0 {
		return nil, &FormatError{Err: errors.New("empty document")}
	}
	dec := xml.NewDecoder(bytes.NewReader(plain))
	dec.CharsetReader = charsetReader

	var root node
	if err := dec.Decode(&root); err != nil {
		return nil, &FormatError{Err: err}
	}

	t := &Table{root: &root}
	t.bind(&root, StorageUnspecified)
	return t, nil
}

func (t *Table) bind(n *node, storage StorageMedium) {
	n.Text = strings.TrimSpace(n.Text)
	switch n.XMLName.Local {
	case tagStorageType:
		storage = parseStorageMedium(n.attr("name"))
	case tagPartition, tagPartitionIndex:
		if p := partitionFromNode(n, storage); p != nil {
			n.partition = p
			t.partitions = append(t.partitions, p)
			return
		}
	}
	for _, c := range n.Children {
		t.bind(c, storage)
	}
}

func trimTree(n *node) {
	n.Text = strings.TrimSpace(n.Text)
	for _, c := range n.Children {
		trimTree(c)
	}
}

func partitionFromNode(n *node, storage StorageMedium) *Partition {
	nameTag := tagPartitionName
	nameNode := n.child(tagPartitionName)
	if nameNode == nil {
		nameTag = tagName
		nameNode = n.child(tagName)
	}
	if nameNode == nil || strings.TrimSpace(nameNode.Text) == "" {
		return nil
	}

	p := &Partition{
		Name:      strings.TrimSpace(nameNode.Text),
		Storage:   storage,
		element:   n.XMLName,
		attrs:     n.Attrs,
		nameTag:   nameTag,
		inherited: storage != StorageUnspecified,
	}
	seen := map[string]bool{nameTag: true}
	for _, c := range n.Children {
		trimTree(c)
		if c == nameNode {
			continue
		}
		tag := c.XMLName.Local
		if seen[tag] {
			p.extra = append(p.extra, c)
			continue
		}
		switch tag {
		case tagFileName:
			p.File = decodeFile(c.Text)
		case tagIsDownload:
			p.Download = decodeBool(c.Text)
		case tagIsUpgradable:
			p.Upgradable = decodeBool(c.Text)
		case tagStorage:
			p.storageText = c.Text
			if s := parseStorageMedium(c.Text); s != StorageUnspecified || !p.inherited {
				p.Storage = s
				p.inherited = false
			}
		default:
			p.extra = append(p.extra, c)
			continue
		}
		seen[tag] = true
	}
	return p
}

func decodeFile(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, noFile) {
		return ""
	}
	return s
}

func encodeFile(s string) string {
	if s == "" {
		return noFile
	}
	return s
}

// decodeBool treats anything that is not a recognizable true value as false.
func decodeBool(s string) bool {
	b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return false
	}
	return b
}

func encodeBool(b bool) string {
	return strconv.FormatBool(b)
}
