package device

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Entry is a line of "adb devices".
type Entry struct {
	Serial string
	State  string
}

// ParseDevices parses the output of "adb devices".
func ParseDevices(out string) []Entry {
	var entries []Entry
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		entries = append(entries, Entry{Serial: fields[0], State: fields[1]})
	}
	return entries
}

// ADB talks to a device through the Android debug bridge.
type ADB struct {
	Path     string
	Interval time.Duration
	Log      logrus.FieldLogger
}

// NewADB uses the adb binary from platformToolsDir, or adb from PATH.
func NewADB(platformToolsDir string, interval time.Duration, log logrus.FieldLogger) *ADB {
	return &ADB{
		Path:     toolPath(platformToolsDir, "adb"),
		Interval: interval,
		Log:      log,
	}
}

func (a *ADB) run(ctx context.Context, arg ...string) (string, error) {
	stdout, stderr, _, err := ExecString(ctx, a.Path, arg...)
	if err != nil {
		return stdout, fmt.Errorf("adb %s: %w: %s", strings.Join(arg, " "), err, stderr)
	}
	return stdout, nil
}

func (a *ADB) Devices(ctx context.Context) ([]Entry, error) {
	out, err := a.run(ctx, "devices")
	if err != nil {
		return nil, err
	}
	return ParseDevices(out), nil
}

// WaitForDevice blocks until an authorized device shows up. The operator
// is told once how to authorize a device that is connected but
// unauthorized.
func (a *ADB) WaitForDevice(ctx context.Context, timeout time.Duration) WaitResult {
	a.Log.Info("waiting for device")
	hinted := false
	res := Poll(ctx, a.Interval, timeout, func(ctx context.Context) bool {
		entries, err := a.Devices(ctx)
		if err != nil {
			a.Log.Debug(err)
			return false
		}
		for _, e := range entries {
			switch e.State {
			case "device":
				a.Log.Infof("device %s connected", e.Serial)
				return true
			case "unauthorized":
				if !hinted {
					a.Log.Warn("device is unauthorized, allow USB debugging on the phone")
					hinted = true
				}
			}
		}
		return false
	})
	if res != Found {
		a.Log.Warnf("waiting for device %s", res)
	}
	return res
}

func (a *ADB) GetProp(ctx context.Context, prop string) (string, error) {
	return a.run(ctx, "shell", "getprop", prop)
}

// Reboot reboots the device, into target ("bootloader", "recovery") if it
// is not empty.
func (a *ADB) Reboot(ctx context.Context, target string) error {
	arg := []string{"reboot"}
	if target != "" {
		arg = append(arg, target)
	}
	_, err := a.run(ctx, arg...)
	return err
}

// KillServer stops the adb server. Errors are ignored.
func (a *ADB) KillServer(ctx context.Context) {
	if _, err := a.run(ctx, "kill-server"); err != nil {
		a.Log.Debug(err)
	}
}
