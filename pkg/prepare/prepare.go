// Package prepare turns the vendor scatter container of a platform into the
// final descriptor handed to the flashing tool.
package prepare

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/otiai10/copy"
	"github.com/sirupsen/logrus"

	"github.com/lpmbox/lpmbox/internal/envflags"
	"github.com/lpmbox/lpmbox/pkg/abslot"
	"github.com/lpmbox/lpmbox/pkg/policy"
	"github.com/lpmbox/lpmbox/pkg/scatter"
)

const (
	scatterSuffix = "_Android_scatter.x"

	// PlaintextName is the decrypted copy of the source container.
	PlaintextName = "Android_scatter.xml"
	// WorkingName is the reconciled copy before any policy is applied.
	WorkingName = "Android_scatter_A,B.xml"
)

var scatterXGlob = glob.MustCompile("*" + strings.ToLower(scatterSuffix))

// FindScatterX returns {platform}_Android_scatter.x from imageDir, or the
// first *_Android_scatter.x in it when there is none for the platform.
func FindScatterX(imageDir, platform string) (string, error) {
	if platform != "" {
		expected := filepath.Join(imageDir, platform+scatterSuffix)
		if fi, err := os.Stat(expected); err == nil && fi.Mode().IsRegular() {
			return expected, nil
		}
	}

	entries, err := os.ReadDir(imageDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", &scatter.IOError{Op: "list", Path: imageDir, Err: err}
	}
	for _, e := range entries {
		if e.Type().IsRegular() && scatterXGlob.Match(strings.ToLower(e.Name())) {
			return filepath.Join(imageDir, e.Name()), nil
		}
	}
	return "", &scatter.NotFoundError{Path: filepath.Join(imageDir, platform+scatterSuffix)}
}

// OutputName returns the final descriptor name for a source container.
func OutputName(source string) string {
	base := filepath.Base(source)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".xml"
}

type Options struct {
	ImageDir string
	Platform string
	// Source overrides the scatter container lookup in ImageDir
	Source string

	CountryChange bool
	KeepUserData  bool
	// KeepPlaintext keeps the intermediate copies. It is also enabled by
	// the keep-plaintext option in LPMBOX_OPTIONS.
	KeepPlaintext bool

	Decrypter scatter.Decrypter
}

type Result struct {
	Source    string
	Output    string
	Decrypted bool
	Table     *scatter.Table
}

// Run decodes the scatter container, reconciles the A/B slots, applies the
// partition policies and writes {name}.xml next to the source. Nothing is
// written to Output unless every step before it succeeded.
func Run(opts Options, log logrus.FieldLogger) (*Result, error) {
	src := opts.Source
	if src == "" {
		var err error
		src, err = FindScatterX(opts.ImageDir, opts.Platform)
		if err != nil {
			return nil, err
		}
	}
	log.Infof("found scatter %s", filepath.Base(src))

	raw, err := os.ReadFile(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &scatter.NotFoundError{Path: src}
	}
	if err != nil {
		return nil, &scatter.IOError{Op: "read", Path: src, Err: err}
	}

	dir := filepath.Dir(src)
	res := &Result{
		Source: src,
		Output: filepath.Join(dir, OutputName(src)),
	}
	intermediates := []string{filepath.Join(dir, PlaintextName), filepath.Join(dir, WorkingName)}
	keep := opts.KeepPlaintext || envflags.Bool(envflags.KeepPlaintext)
	defer func() {
		if !keep {
			removeIntermediates(intermediates, log)
		}
	}()

	log.Info("conversion started")
	plain, decrypted, err := scatter.Plaintext(raw, opts.Decrypter)
	if err != nil {
		return nil, err
	}
	res.Decrypted = decrypted
	// #nosec G306
	if err := os.WriteFile(intermediates[0], plain, 0644); err != nil {
		return nil, &scatter.IOError{Op: "write", Path: intermediates[0], Err: err}
	}

	t, err := scatter.Parse(plain)
	if err != nil {
		var fe *scatter.FormatError
		if errors.As(err, &fe) {
			fe.Decrypted = decrypted
		}
		return nil, err
	}
	log.Infof("conversion done, %d partitions", t.Len())

	abslot.Reconcile(t, log)
	if err := scatter.Write(t, intermediates[1]); err != nil {
		return nil, err
	}

	if err := policy.ApplyAll(t, log, policy.Pipeline(opts.CountryChange, opts.KeepUserData)...); err != nil {
		return nil, err
	}
	if err := scatter.Write(t, res.Output); err != nil {
		return nil, err
	}
	log.Infof("final scatter saved to %s", res.Output)

	res.Table = t
	return res, nil
}

func removeIntermediates(paths []string, log logrus.FieldLogger) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Debugf("cannot remove %s: %v", p, err)
		}
	}
	log.Debug("temporary scatter files removed")
}

// BackupName returns {platform}_Android_scatter_{YYYYMMDD-HHMMSS}.xml.
func BackupName(platform string, now time.Time) string {
	return fmt.Sprintf("%s_Android_scatter_%s.xml", platform, now.Format("20060102-150405"))
}

// Backup copies the final descriptor into logsDir under a timestamped name.
func Backup(output, logsDir, platform string, now time.Time) (string, error) {
	if _, err := os.Stat(output); err != nil {
		return "", &scatter.NotFoundError{Path: output}
	}
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return "", &scatter.IOError{Op: "mkdir", Path: logsDir, Err: err}
	}
	dst := filepath.Join(logsDir, BackupName(platform, now))
	if err := copy.Copy(output, dst); err != nil {
		return "", &scatter.IOError{Op: "copy", Path: dst, Err: err}
	}
	return dst, nil
}

// isSlotBootImage matches lk and dtbo images for a single slot, as in
// lk_a.img or dtbo_b.img.
func isSlotBootImage(name string) bool {
	name = strings.ToLower(name)
	if !strings.Contains(name, "lk") && !strings.Contains(name, "dtbo") {
		return false
	}
	return strings.Contains(name, "_a") || strings.Contains(name, "_b")
}

// StageBootImages copies the per-slot lk and dtbo images from srcDir into
// imageDir. Copy failures are logged and skipped. It returns the number of
// copied files.
func StageBootImages(srcDir, imageDir string, log logrus.FieldLogger) (int, error) {
	entries, err := os.ReadDir(srcDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(imageDir, 0755); err != nil {
		return 0, err
	}

	copied := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || !isSlotBootImage(e.Name()) {
			continue
		}
		src := filepath.Join(srcDir, e.Name())
		if err := copy.Copy(src, filepath.Join(imageDir, e.Name()), copy.Options{PreserveTimes: true}); err != nil {
			log.Debugf("cannot copy %s: %v", src, err)
			continue
		}
		copied++
	}
	if copied > 0 {
		log.Infof("copied %d lk/dtbo images", copied)
	}
	return copied, nil
}
