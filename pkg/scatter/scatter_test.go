package scatter_test

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"

	"github.com/lpmbox/lpmbox/pkg/scatter"
)

const fakeScatter = `<?xml version="1.0" encoding="UTF-8"?>
<scatter>
  <general>
    <config_version>V2.1.0</config_version>
    <platform>MT6789</platform>
  </general>
  <storage_type name="EMMC">
    <partition_index name="SYS0">
      <partition_name>preloader</partition_name>
      <file_name>preloader_k6789.bin</file_name>
      <is_download>true</is_download>
      <type>SV5_BL_BIN</type>
      <linear_start_addr>0x0</linear_start_addr>
      <is_upgradable>false</is_upgradable>
    </partition_index>
    <partition_index name="SYS1">
      <partition_name>boot_a</partition_name>
      <file_name>boot.img</file_name>
      <is_download>true</is_download>
      <is_upgradable>true</is_upgradable>
    </partition_index>
    <partition_index name="SYS2">
      <partition_name>boot_b</partition_name>
      <file_name>NONE</file_name>
      <is_download>false</is_download>
    </partition_index>
  </storage_type>
  <storage_type name="UFS">
    <partition_index name="SYS0">
      <partition_name>boot_a</partition_name>
      <file_name>NONE</file_name>
      <is_download>false</is_download>
      <is_upgradable>false</is_upgradable>
    </partition_index>
  </storage_type>
</scatter>
`

func TestParseStorageAndDefaults(t *testing.T) {
	tbl, err := scatter.Parse([]byte(fakeScatter))
	require.NoError(t, err)
	require.Equal(t, 4, tbl.Len())

	parts := tbl.Partitions()
	assert.Equal(t, "preloader", parts[0].Name)
	assert.Equal(t, scatter.StorageEMMC, parts[0].Storage)
	assert.Equal(t, []string{"type", "linear_start_addr"}, parts[0].Passthrough())
	v, ok := parts[0].PassthroughValue("type")
	assert.True(t, ok)
	assert.Equal(t, "SV5_BL_BIN", v)

	// NONE never leaves the codec, missing sub-fields read as false
	bootB := parts[2]
	assert.Equal(t, "boot_b", bootB.Name)
	assert.Equal(t, "", bootB.File)
	assert.False(t, bootB.Download)
	assert.False(t, bootB.Upgradable)

	assert.Equal(t, scatter.StorageUFS, parts[3].Storage)
}

func TestFindIsCaseInsensitive(t *testing.T) {
	tbl, err := scatter.Parse([]byte(fakeScatter))
	require.NoError(t, err)

	p := tbl.Find("BOOT_A")
	require.NotNil(t, p)
	assert.Equal(t, scatter.StorageEMMC, p.Storage)
	assert.Len(t, tbl.FindAll("boot_a"), 2)
	assert.Nil(t, tbl.Find("proinfo"))
}

func TestByStorageAndBase(t *testing.T) {
	tbl, err := scatter.Parse([]byte(fakeScatter))
	require.NoError(t, err)

	groups := tbl.ByStorageAndBase()
	assert.Len(t, groups[scatter.StorageEMMC]["boot"], 2)
	assert.Len(t, groups[scatter.StorageUFS]["boot"], 1)
	assert.Len(t, groups[scatter.StorageEMMC]["preloader"], 1)
}

func TestIsPlaintext(t *testing.T) {
	assert.True(t, scatter.IsPlaintext([]byte(fakeScatter)))
	assert.True(t, scatter.IsPlaintext(append([]byte{0xef, 0xbb, 0xbf}, []byte("<partition/>")...)))
	assert.False(t, scatter.IsPlaintext([]byte{0x00, 0x8f, 0xfe, 0x12, 0x99}))
	assert.False(t, scatter.IsPlaintext([]byte("just some text")))
}

func TestDecodeUsesDecrypter(t *testing.T) {
	called := 0
	dec := scatter.DecrypterFunc(func(raw []byte) ([]byte, error) {
		called++
		assert.Equal(t, []byte{0x01, 0x02}, raw)
		return []byte(fakeScatter), nil
	})

	tbl, err := scatter.Decode([]byte{0x01, 0x02}, dec)
	require.NoError(t, err)
	assert.Equal(t, 1, called)
	assert.Equal(t, 4, tbl.Len())

	// plaintext input never reaches the decrypter
	_, err = scatter.Decode([]byte(fakeScatter), dec)
	require.NoError(t, err)
	assert.Equal(t, 1, called)
}

func TestDecodeErrors(t *testing.T) {
	_, err := scatter.Decode([]byte{0x01, 0x02}, nil)
	var de *scatter.DecryptError
	assert.True(t, errors.As(err, &de))

	failing := scatter.DecrypterFunc(func([]byte) ([]byte, error) {
		return nil, errors.New("bad container")
	})
	_, err = scatter.Decode([]byte{0x01, 0x02}, failing)
	assert.True(t, errors.As(err, &de))
	assert.ErrorContains(t, err, "bad container")

	garbage := scatter.DecrypterFunc(func([]byte) ([]byte, error) {
		return []byte("<scatter><partition>"), nil
	})
	_, err = scatter.Decode([]byte{0x01, 0x02}, garbage)
	var fe *scatter.FormatError
	require.True(t, errors.As(err, &fe))
	assert.True(t, fe.Decrypted)
	assert.ErrorContains(t, err, "after decrypt")

	_, err = scatter.Parse([]byte("   "))
	assert.True(t, errors.As(err, &fe))
}

func rot13(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return 'a' + (r-'a'+13)%26
		case r >= 'A' && r <= 'Z':
			return 'A' + (r-'A'+13)%26
		}
		return r
	}, s)
}

func TestExecDecrypter(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("decrypt helper is a shell command")
	}
	dec := &scatter.ExecDecrypter{
		Command: "tr",
		Args:    []string{"a-zA-Z", "n-za-mN-ZA-M"},
	}
	tbl, err := scatter.Decode([]byte(rot13(fakeScatter)), dec)
	require.NoError(t, err)
	assert.Equal(t, 4, tbl.Len())
	assert.Equal(t, "preloader_k6789.bin", tbl.Find("preloader").File)

	failing := &scatter.ExecDecrypter{Command: "sh", Args: []string{"-c", "echo broken >&2; exit 1"}}
	_, err = scatter.Decode([]byte(rot13(fakeScatter)), failing)
	var de *scatter.DecryptError
	require.ErrorAs(t, err, &de)
	assert.ErrorContains(t, err, "broken")

	_, err = scatter.Decode([]byte(rot13(fakeScatter)), &scatter.ExecDecrypter{})
	assert.ErrorAs(t, err, &de)
}

func TestParseUTF16WithBOM(t *testing.T) {
	doc := strings.Replace(fakeScatter, `encoding="UTF-8"`, `encoding="UTF-16"`, 1)
	raw, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(doc))
	require.NoError(t, err)

	require.True(t, scatter.IsPlaintext(raw))
	tbl, err := scatter.Decode(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, tbl.Len())
}

var ignoreInternals = cmpopts.IgnoreUnexported(scatter.Partition{})

func TestRoundTrip(t *testing.T) {
	tbl, err := scatter.Parse([]byte(fakeScatter))
	require.NoError(t, err)

	// mutate a few fields the way the policy pipeline does
	tbl.Find("boot_b").Enable("boot.img")
	tbl.Find("preloader").Disable()

	data, err := scatter.Marshal(tbl)
	require.NoError(t, err)

	again, err := scatter.Parse(data)
	require.NoError(t, err)
	if diff := cmp.Diff(tbl.Partitions(), again.Partitions(), ignoreInternals); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	for i, p := range tbl.Partitions() {
		assert.Equal(t, p.Passthrough(), again.Partitions()[i].Passthrough())
	}

	// non-partition content survives
	assert.Contains(t, string(data), "<config_version>V2.1.0</config_version>")
	assert.Contains(t, string(data), `<storage_type name="UFS">`)
	assert.Contains(t, string(data), `<partition_index name="SYS1">`)
	assert.True(t, strings.HasPrefix(string(data), `<?xml version="1.0" encoding="UTF-8"?>`))
}

func TestMarshalCreatesMissingFields(t *testing.T) {
	tbl, err := scatter.Parse([]byte(fakeScatter))
	require.NoError(t, err)

	tbl.Find("boot_b").Enable("boot.img")
	data, err := scatter.Marshal(tbl)
	require.NoError(t, err)

	expected := `    <partition_index name="SYS2">
      <partition_name>boot_b</partition_name>
      <file_name>boot.img</file_name>
      <is_download>true</is_download>
      <is_upgradable>true</is_upgradable>
    </partition_index>`
	assert.Contains(t, string(data), expected)
}

func TestMarshalFieldOrder(t *testing.T) {
	tbl, err := scatter.Parse([]byte(fakeScatter))
	require.NoError(t, err)

	data, err := scatter.Marshal(tbl)
	require.NoError(t, err)

	expected := `      <partition_name>preloader</partition_name>
      <file_name>preloader_k6789.bin</file_name>
      <is_download>true</is_download>
      <is_upgradable>false</is_upgradable>
      <type>SV5_BL_BIN</type>
      <linear_start_addr>0x0</linear_start_addr>`
	assert.Contains(t, string(data), expected)
}

func TestNewTableRoundTrip(t *testing.T) {
	lk := scatter.NewPartition("lk_a", scatter.StorageEMMC)
	lk.Enable("lk.img")
	ufs := scatter.NewPartition("lk_a", scatter.StorageUFS)
	plain := scatter.NewPartition("userdata", scatter.StorageUnspecified)

	tbl := scatter.NewTable(lk, ufs, plain)
	data, err := scatter.Marshal(tbl)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<storage>HW_STORAGE_UFS</storage>")

	again, err := scatter.Decode(data, nil)
	require.NoError(t, err)
	if diff := cmp.Diff(tbl.Partitions(), again.Partitions(), ignoreInternals); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLegacyNameTag(t *testing.T) {
	doc := `<scatter>
  <partition>
    <name>proinfo</name>
    <file_name>NONE</file_name>
  </partition>
  <partition>
    <file_name>orphan.img</file_name>
  </partition>
</scatter>`
	tbl, err := scatter.Parse([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())

	tbl.Find("proinfo").Enable("proinfo")
	data, err := scatter.Marshal(tbl)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<name>proinfo</name>")
	assert.Contains(t, string(data), "<file_name>orphan.img</file_name>")
}

func TestWrite(t *testing.T) {
	tbl, err := scatter.Parse([]byte(fakeScatter))
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "MT6789_Android_scatter.xml")
	require.NoError(t, scatter.Write(tbl, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<partition_name>boot_a</partition_name>")

	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteFailsWithIOError(t *testing.T) {
	tbl := scatter.NewTable()
	err := scatter.Write(tbl, filepath.Join(t.TempDir(), "missing", "out.xml"))
	var ioe *scatter.IOError
	assert.True(t, errors.As(err, &ioe))
}

func TestSplitSlot(t *testing.T) {
	for _, tc := range []struct {
		name string
		base string
		slot string
	}{
		{"boot_a", "boot", "a"},
		{"VBMETA_B", "vbmeta", "b"},
		{"userdata", "userdata", ""},
		{"_a", "_a", ""},
		{" lk_b ", "lk", "b"},
	} {
		base, slot := scatter.SplitSlot(tc.name)
		assert.Equal(t, tc.base, base, tc.name)
		assert.Equal(t, tc.slot, slot, tc.name)
	}
}

func TestFlashAction(t *testing.T) {
	p := scatter.NewPartition("proinfo", scatter.StorageUnspecified)
	assert.False(t, p.Action().IsFlash())

	p.Enable("proinfo")
	assert.Equal(t, scatter.Flash("proinfo"), p.Action())
	assert.True(t, p.Upgradable)

	// downloading without an image is not a flash
	p.File = ""
	assert.Equal(t, scatter.Skip(), p.Action())

	p.Disable()
	assert.Equal(t, "", p.File)
	assert.False(t, p.Download)
	assert.False(t, p.Upgradable)
}

func TestEnumStorageMedium(t *testing.T) {
	enumMap := map[string]scatter.StorageMedium{
		"":     scatter.StorageUnspecified,
		"EMMC": scatter.StorageEMMC,
		"UFS":  scatter.StorageUFS,
	}

	assert := assert.New(t)
	for name, num := range enumMap {
		sm, err := scatter.NewStorageMedium(name)
		assert.NoError(err)
		assert.Equal(num, sm)
		assert.Equal(name, sm.String())
	}

	bad := scatter.StorageMedium(7)
	assert.PanicsWithValue("unknown or unsupported storage medium with enum value 7", func() { _ = bad.String() })

	_, err := scatter.NewStorageMedium("NAND")
	assert.EqualError(err, "unknown or unsupported storage medium name: NAND")
}
