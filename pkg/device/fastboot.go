package device

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type Fastboot struct {
	Path     string
	Interval time.Duration
	Log      logrus.FieldLogger
}

func NewFastboot(platformToolsDir string, interval time.Duration, log logrus.FieldLogger) *Fastboot {
	return &Fastboot{
		Path:     toolPath(platformToolsDir, "fastboot"),
		Interval: interval,
		Log:      log,
	}
}

// fastboot writes most of its answers to stderr
func (f *Fastboot) output(ctx context.Context, arg ...string) (string, int, error) {
	stdout, stderr, code, err := ExecString(ctx, f.Path, arg...)
	return strings.TrimSpace(stdout + "\n" + stderr), code, err
}

// WaitForDevice waits until "fastboot devices" lists something.
func (f *Fastboot) WaitForDevice(ctx context.Context, timeout time.Duration) WaitResult {
	f.Log.Info("waiting for fastboot device")
	res := Poll(ctx, f.Interval, timeout, func(ctx context.Context) bool {
		out, _, err := f.output(ctx, "devices")
		return err == nil && out != ""
	})
	if res != Found {
		f.Log.Warnf("waiting for fastboot device %s", res)
	}
	return res
}

var currentSlotRE = regexp.MustCompile(`current-slot[^ab]*([ab])\b`)

// ParseCurrentSlot returns "a" or "b" from "fastboot getvar current-slot"
// output, or "" if it names no slot.
func ParseCurrentSlot(out string) string {
	for _, line := range strings.Split(strings.ToLower(out), "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "current-slot") {
			continue
		}
		if m := currentSlotRE.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return ""
}

func (f *Fastboot) CurrentSlot(ctx context.Context) (string, error) {
	out, _, err := f.output(ctx, "getvar", "current-slot")
	if out == "" && err != nil {
		return "", err
	}
	slot := ParseCurrentSlot(out)
	if slot == "" {
		return "", fmt.Errorf("cannot find current slot in %q", out)
	}
	return slot, nil
}

func (f *Fastboot) SetActive(ctx context.Context, slot string) error {
	out, _, err := f.output(ctx, "set_active", slot)
	if err != nil {
		return fmt.Errorf("fastboot set_active %s: %w: %s", slot, err, out)
	}
	return nil
}

// EnsureSlotA makes slot A the active one. A slot that cannot be detected
// is logged and left alone.
func (f *Fastboot) EnsureSlotA(ctx context.Context) error {
	slot, err := f.CurrentSlot(ctx)
	if err != nil {
		f.Log.Warnf("skipping slot check: %v", err)
		return nil
	}
	if slot == "a" {
		f.Log.Info("current slot is A")
		return nil
	}
	f.Log.Infof("switching slot %s to A", strings.ToUpper(slot))
	if err := f.SetActive(ctx, "a"); err != nil {
		return err
	}
	f.Log.Info("active slot set to A")
	return nil
}

func (f *Fastboot) Reboot(ctx context.Context) error {
	out, _, err := f.output(ctx, "reboot")
	if err != nil {
		return fmt.Errorf("fastboot reboot: %w: %s", err, out)
	}
	return nil
}
