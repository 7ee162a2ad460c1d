// Package device drives a phone through adb and fastboot and waits for it
// to show up in the various USB modes a flashing run goes through.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Device properties read during a flashing run.
const (
	PropPlatform    = "ro.vendor.mediatek.platform"
	PropHWVersion   = "ro.vendor.config.lgsi.hw.version"
	PropCPUInfo     = "ro.vendor.config.lgsi.cpuinfo"
	PropCountryCode = "ro.product.countrycode"
)

// UnknownCountry is reported when the device has no country code.
const UnknownCountry = "UNKNOWN"

var ErrNotMediaTek = errors.New("device is not a MediaTek device")

type PropReader interface {
	GetProp(ctx context.Context, prop string) (string, error)
}

// DetectPlatform returns the MT#### platform of the device.
func DetectPlatform(ctx context.Context, props PropReader) (string, error) {
	platform, err := props.GetProp(ctx, PropPlatform)
	if err != nil {
		return "", err
	}
	platform = strings.TrimSpace(platform)
	if !strings.HasPrefix(platform, "MT") {
		return "", fmt.Errorf("%w: platform %q", ErrNotMediaTek, platform)
	}
	return platform, nil
}

type Info struct {
	Platform    string
	HWVersion   string
	CPUInfo     string
	CountryCode string
}

func propOr(ctx context.Context, props PropReader, prop, def string) string {
	v, err := props.GetProp(ctx, prop)
	v = strings.TrimSpace(v)
	if err != nil || v == "" {
		return def
	}
	return v
}

// ReadInfo detects the platform and reads the informational properties.
func ReadInfo(ctx context.Context, props PropReader, log logrus.FieldLogger) (*Info, error) {
	log.Info("checking device info")
	platform, err := DetectPlatform(ctx, props)
	if err != nil {
		return nil, err
	}
	info := &Info{
		Platform:    platform,
		HWVersion:   propOr(ctx, props, PropHWVersion, "?"),
		CPUInfo:     propOr(ctx, props, PropCPUInfo, "?"),
		CountryCode: propOr(ctx, props, PropCountryCode, UnknownCountry),
	}
	log.Infof("platform %s, hw %s, cpu %s", info.Platform, info.HWVersion, info.CPUInfo)
	if info.CountryCode == UnknownCountry {
		log.Warn("country code is unknown, check the USB cable")
		log.Warn("an unknown country code can lead to a boot loop after changing the country")
	} else {
		log.Infof("country code %s", info.CountryCode)
	}
	return info, nil
}
