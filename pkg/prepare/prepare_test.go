package prepare_test

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lpmbox/lpmbox/pkg/prepare"
	"github.com/lpmbox/lpmbox/pkg/scatter"
)

const fakeScatter = `<?xml version="1.0" encoding="UTF-8"?>
<scatter>
  <general>
    <platform>MT6789</platform>
  </general>
  <storage_type name="EMMC">
    <partition_index name="SYS0">
      <partition_name>lk_a</partition_name>
      <file_name>lk.img</file_name>
      <is_download>true</is_download>
      <is_upgradable>true</is_upgradable>
    </partition_index>
    <partition_index name="SYS1">
      <partition_name>lk_b</partition_name>
      <file_name>NONE</file_name>
      <is_download>false</is_download>
      <is_upgradable>false</is_upgradable>
    </partition_index>
    <partition_index name="SYS2">
      <partition_name>dtbo_a</partition_name>
      <file_name>dtbo.img</file_name>
      <is_download>true</is_download>
      <is_upgradable>true</is_upgradable>
    </partition_index>
    <partition_index name="SYS3">
      <partition_name>dtbo_b</partition_name>
      <file_name>dtbo.img</file_name>
      <is_download>true</is_download>
      <is_upgradable>true</is_upgradable>
    </partition_index>
    <partition_index name="SYS4">
      <partition_name>vbmeta_a</partition_name>
      <file_name>vbmeta.img</file_name>
      <is_download>false</is_download>
      <is_upgradable>false</is_upgradable>
    </partition_index>
    <partition_index name="SYS5">
      <partition_name>vbmeta_b</partition_name>
      <file_name>NONE</file_name>
      <is_download>false</is_download>
    </partition_index>
    <partition_index name="SYS6">
      <partition_name>super</partition_name>
      <file_name>super.img</file_name>
      <is_download>true</is_download>
      <is_upgradable>true</is_upgradable>
    </partition_index>
    <partition_index name="SYS7">
      <partition_name>proinfo</partition_name>
      <file_name>NONE</file_name>
      <is_download>false</is_download>
      <is_upgradable>false</is_upgradable>
    </partition_index>
    <partition_index name="SYS8">
      <partition_name>userdata</partition_name>
      <file_name>userdata.img</file_name>
      <is_download>true</is_download>
      <is_upgradable>true</is_upgradable>
    </partition_index>
  </storage_type>
  <storage_type name="UFS">
    <partition_index name="SYS0">
      <partition_name>super</partition_name>
      <file_name>NONE</file_name>
      <is_download>false</is_download>
      <is_upgradable>false</is_upgradable>
    </partition_index>
  </storage_type>
</scatter>
`

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func findIn(t *testing.T, tbl *scatter.Table, name string, storage scatter.StorageMedium) *scatter.Partition {
	t.Helper()
	for _, p := range tbl.FindAll(name) {
		if p.Storage == storage {
			return p
		}
	}
	require.Failf(t, "partition not found", "%s on %v", name, storage)
	return nil
}

func TestFindScatterX(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "MT6833_Android_scatter.x"), nil)

	// fallback to any platform
	path, err := prepare.FindScatterX(dir, "MT6789")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "MT6833_Android_scatter.x"), path)

	// exact match wins
	writeFile(t, filepath.Join(dir, "MT6789_Android_scatter.x"), nil)
	path, err = prepare.FindScatterX(dir, "MT6789")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "MT6789_Android_scatter.x"), path)
}

func TestFindScatterXNotFound(t *testing.T) {
	for _, dir := range []string{t.TempDir(), filepath.Join(t.TempDir(), "missing")} {
		_, err := prepare.FindScatterX(dir, "MT6789")
		var nf *scatter.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, filepath.Join(dir, "MT6789_Android_scatter.x"), nf.Path)
	}
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "MT6789_Android_scatter.xml", prepare.OutputName("/img/MT6789_Android_scatter.x"))
}

func TestRunGlobalUpgrade(t *testing.T) {
	t.Setenv("LPMBOX_OPTIONS", "")
	logger, _ := test.NewNullLogger()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "MT6789_Android_scatter.x"), []byte(fakeScatter))

	res, err := prepare.Run(prepare.Options{
		ImageDir:      dir,
		Platform:      "MT6789",
		CountryChange: true,
	}, logger)
	require.NoError(t, err)
	assert.False(t, res.Decrypted)
	assert.Equal(t, filepath.Join(dir, "MT6789_Android_scatter.xml"), res.Output)

	assert.NoFileExists(t, filepath.Join(dir, prepare.PlaintextName))
	assert.NoFileExists(t, filepath.Join(dir, prepare.WorkingName))

	data, err := os.ReadFile(res.Output)
	require.NoError(t, err)
	tbl, err := scatter.Parse(data)
	require.NoError(t, err)

	for _, name := range []string{"lk_a", "lk_b", "dtbo_a", "dtbo_b"} {
		p := findIn(t, tbl, name, scatter.StorageEMMC)
		assert.False(t, p.Download, name)
		assert.False(t, p.Upgradable, name)
		assert.Equal(t, "", p.File, name)
	}
	for _, name := range []string{"vbmeta_a", "vbmeta_b"} {
		p := findIn(t, tbl, name, scatter.StorageEMMC)
		assert.True(t, p.Download, name)
		assert.True(t, p.Upgradable, name)
		assert.Equal(t, "vbmeta.img", p.File, name)
	}
	ufsSuper := findIn(t, tbl, "super", scatter.StorageUFS)
	assert.Equal(t, scatter.Flash("super.img"), ufsSuper.Action())
	assert.True(t, ufsSuper.Upgradable)

	proinfo := findIn(t, tbl, "proinfo", scatter.StorageEMMC)
	assert.Equal(t, scatter.Flash("proinfo"), proinfo.Action())
	userdata := findIn(t, tbl, "userdata", scatter.StorageEMMC)
	assert.Equal(t, scatter.Flash("userdata.img"), userdata.Action())
}

func TestRunKeepUserData(t *testing.T) {
	t.Setenv("LPMBOX_OPTIONS", "")
	logger, _ := test.NewNullLogger()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "MT6789_Android_scatter.x"), []byte(fakeScatter))

	res, err := prepare.Run(prepare.Options{
		ImageDir:     dir,
		Platform:     "MT6789",
		KeepUserData: true,
	}, logger)
	require.NoError(t, err)

	userdata := findIn(t, res.Table, "userdata", scatter.StorageEMMC)
	assert.False(t, userdata.Download)
	assert.False(t, userdata.Upgradable)
	assert.Equal(t, "userdata.img", userdata.File)

	proinfo := findIn(t, res.Table, "proinfo", scatter.StorageEMMC)
	assert.True(t, proinfo.Download)
	assert.True(t, proinfo.Upgradable)
	assert.Equal(t, "proinfo", proinfo.File)
}

func TestRunDecryptsAndKeepsPlaintext(t *testing.T) {
	t.Setenv("LPMBOX_OPTIONS", "keep-plaintext")
	logger, _ := test.NewNullLogger()
	dir := t.TempDir()
	encoded := []byte(base64.StdEncoding.EncodeToString([]byte(fakeScatter)))
	writeFile(t, filepath.Join(dir, "MT6789_Android_scatter.x"), encoded)

	dec := scatter.DecrypterFunc(func(raw []byte) ([]byte, error) {
		return base64.StdEncoding.DecodeString(string(raw))
	})
	res, err := prepare.Run(prepare.Options{ImageDir: dir, Platform: "MT6789", Decrypter: dec}, logger)
	require.NoError(t, err)
	assert.True(t, res.Decrypted)

	plain, err := os.ReadFile(filepath.Join(dir, prepare.PlaintextName))
	require.NoError(t, err)
	assert.Equal(t, fakeScatter, string(plain))

	working, err := os.ReadFile(filepath.Join(dir, prepare.WorkingName))
	require.NoError(t, err)
	tbl, err := scatter.Parse(working)
	require.NoError(t, err)
	// reconciled but no policy applied yet
	lkA := findIn(t, tbl, "lk_a", scatter.StorageEMMC)
	assert.True(t, lkA.Download)
}

func TestRunFormatErrorWritesNothing(t *testing.T) {
	t.Setenv("LPMBOX_OPTIONS", "")
	logger, _ := test.NewNullLogger()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "MT6789_Android_scatter.x"), []byte("garbage"))

	dec := scatter.DecrypterFunc(func(raw []byte) ([]byte, error) {
		return []byte("<scatter><partition>"), nil
	})
	_, err := prepare.Run(prepare.Options{ImageDir: dir, Platform: "MT6789", Decrypter: dec}, logger)
	var fe *scatter.FormatError
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Decrypted)
	assert.NoFileExists(t, filepath.Join(dir, "MT6789_Android_scatter.xml"))
	assert.NoFileExists(t, filepath.Join(dir, prepare.PlaintextName))
}

func TestRunDecryptError(t *testing.T) {
	logger, _ := test.NewNullLogger()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "MT6789_Android_scatter.x"), []byte{0xff, 0xfe, 0x00, 0x01})

	_, err := prepare.Run(prepare.Options{ImageDir: dir, Platform: "MT6789"}, logger)
	var de *scatter.DecryptError
	assert.ErrorAs(t, err, &de)
}

func TestRunIsRepeatable(t *testing.T) {
	t.Setenv("LPMBOX_OPTIONS", "")
	logger, _ := test.NewNullLogger()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "MT6789_Android_scatter.x"), []byte(fakeScatter))
	opts := prepare.Options{ImageDir: dir, Platform: "MT6789", CountryChange: true}

	res, err := prepare.Run(opts, logger)
	require.NoError(t, err)
	first, err := os.ReadFile(res.Output)
	require.NoError(t, err)

	res, err = prepare.Run(opts, logger)
	require.NoError(t, err)
	second, err := os.ReadFile(res.Output)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first, second))
}

func TestBackup(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "MT6789_Android_scatter.xml")
	writeFile(t, output, []byte("<scatter/>"))
	logsDir := filepath.Join(dir, "logs")

	dst, err := prepare.Backup(output, logsDir, "MT6789", time.Date(2024, 5, 1, 13, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(logsDir, "MT6789_Android_scatter_20240501-130405.xml"), dst)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "<scatter/>", string(data))

	_, err = prepare.Backup(filepath.Join(dir, "missing.xml"), logsDir, "MT6789", time.Now())
	var nf *scatter.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestStageBootImages(t *testing.T) {
	logger, _ := test.NewNullLogger()
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "image")
	for _, name := range []string{"lk_a.img", "LK_B.img", "dtbo_a.img", "lk.img", "boot_a.img"} {
		writeFile(t, filepath.Join(src, name), []byte(name))
	}

	n, err := prepare.StageBootImages(src, dst, logger)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, name := range []string{"lk_a.img", "LK_B.img", "dtbo_a.img"} {
		assert.FileExists(t, filepath.Join(dst, name))
	}
	assert.NoFileExists(t, filepath.Join(dst, "lk.img"))
	assert.NoFileExists(t, filepath.Join(dst, "boot_a.img"))

	n, err = prepare.StageBootImages(filepath.Join(src, "missing"), dst, logger)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}
