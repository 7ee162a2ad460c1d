package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lpmbox/lpmbox/pkg/config"
)

// EnsurePackage installs the named tool package unless its marker file is
// already present. It returns the directory the package lives in.
func (c *Client) EnsurePackage(ctx context.Context, conf *config.Config, name string) (string, error) {
	pkg, ok := conf.Package(name)
	if !ok {
		return "", fmt.Errorf("unknown tool package %q", name)
	}
	dest := conf.Path(pkg.Dest)
	marker := filepath.Join(dest, pkg.Marker)
	if pkg.Marker != "" {
		if _, err := os.Stat(marker); err == nil {
			c.log.Infof("%s already installed", name)
			return dest, nil
		}
	}

	archive := filepath.Join(conf.Layout().DownloadsDir, name+".zip")
	if _, err := c.Download(ctx, pkg.URLs, archive); err != nil {
		return "", err
	}
	defer os.Remove(archive)

	if pkg.SHA256 != "" {
		if err := VerifySha256(archive, pkg.SHA256); err != nil {
			return "", err
		}
	} else {
		c.log.Debugf("no checksum for %s, skipping verification", name)
	}

	files, err := Unzip(archive, dest)
	if err != nil {
		return "", err
	}
	c.log.Infof("%s installed, %d files", name, len(files))

	if pkg.Marker != "" {
		if _, err := os.Stat(marker); err != nil {
			return "", fmt.Errorf("%s is missing from %s", pkg.Marker, name)
		}
	}
	return dest, nil
}
