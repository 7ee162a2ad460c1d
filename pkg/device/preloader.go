package device

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// MediaTekVendorID is the USB vendor id of MediaTek preloader/VCOM ports.
const MediaTekVendorID = "0e8d"

// SysfsUSBDevices is where USB devices are listed on Linux.
var SysfsUSBDevices = "/sys/bus/usb/devices"

var goos = runtime.GOOS

const pnpQuery = "(Get-PnpDevice | Where-Object { $_.FriendlyName -like '*MediaTek*' -and " +
	"($_.FriendlyName -like '*PreLoader*' -or $_.FriendlyName -like '*USB Port*' -or $_.FriendlyName -like '*VCOM*') } " +
	"| Select-Object -First 1).FriendlyName"

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func probeSysfs() (string, bool) {
	vendors, err := filepath.Glob(filepath.Join(SysfsUSBDevices, "*", "idVendor"))
	if err != nil {
		return "", false
	}
	for _, v := range vendors {
		if !strings.EqualFold(readTrimmed(v), MediaTekVendorID) {
			continue
		}
		dir := filepath.Dir(v)
		name := readTrimmed(filepath.Join(dir, "product"))
		if name == "" {
			name = "MediaTek " + readTrimmed(filepath.Join(dir, "idProduct"))
		}
		return name, true
	}
	return "", false
}

func probePnP(ctx context.Context) (string, bool) {
	name, _, _, err := ExecString(ctx, "powershell", "-NoProfile", "-ExecutionPolicy", "Bypass", "-Command", pnpQuery)
	if err != nil || name == "" {
		return "", false
	}
	return name, true
}

// ProbePreloader looks for a MediaTek device in preloader/download mode and
// returns its name.
func ProbePreloader(ctx context.Context) (string, bool) {
	if goos == "windows" {
		return probePnP(ctx)
	}
	return probeSysfs()
}

// WaitForPreloader blocks until a MediaTek preloader port shows up.
func WaitForPreloader(ctx context.Context, interval, timeout time.Duration, log logrus.FieldLogger) WaitResult {
	log.Info("waiting for preloader, connect the powered off device")
	res := Poll(ctx, interval, timeout, func(ctx context.Context) bool {
		name, ok := ProbePreloader(ctx)
		if ok {
			log.Infof("preloader detected: %s", name)
		}
		return ok
	})
	if res != Found {
		log.Warnf("waiting for preloader %s", res)
	}
	return res
}
