// Package spft runs the vendor flashing tool and checks its configuration
// against the connected device.
package spft

import (
	"errors"
	"fmt"
	"os"
	"regexp"
)

var ErrFlashXMLNotFound = errors.New("flash.xml not found")

// PlatformMismatchError is returned when the flash configuration points at
// the descriptor of another platform.
type PlatformMismatchError struct {
	FlashXML string
	Want     string
	Got      string
}

func (e *PlatformMismatchError) Error() string {
	return fmt.Sprintf("%s is for %s, the device is %s", e.FlashXML, e.Got, e.Want)
}

// FindFlashXML returns the first existing candidate.
func FindFlashXML(candidates []string) (string, error) {
	for _, p := range candidates {
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", ErrFlashXMLNotFound
}

var scatterRefRE = regexp.MustCompile(`<scatter>\.\./(MT\d+)_Android_scatter\.xml</scatter>`)

// FlashXMLPlatform returns the platform of the descriptor referenced by the
// flash configuration at path.
func FlashXMLPlatform(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	m := scatterRefRE.FindSubmatch(data)
	if m == nil {
		return "", fmt.Errorf("no scatter reference in %s", path)
	}
	return string(m[1]), nil
}

// CheckFlashXMLPlatform makes sure the flashing tool is configured for the
// platform of the connected device.
func CheckFlashXMLPlatform(candidates []string, platform string) (string, error) {
	path, err := FindFlashXML(candidates)
	if err != nil {
		return "", err
	}
	got, err := FlashXMLPlatform(path)
	if err != nil {
		return "", err
	}
	if got != platform {
		return "", &PlatformMismatchError{FlashXML: path, Want: platform, Got: got}
	}
	return path, nil
}
