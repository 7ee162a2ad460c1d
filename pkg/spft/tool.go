package spft

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// FlashXMLPlaceholder in the tool arguments is replaced by the path of the
// flash configuration.
const FlashXMLPlaceholder = "{flash_xml}"

// Tool is the vendor flashing tool.
type Tool struct {
	Path string
	// Args for a console firmware upgrade
	Args []string
	Log  logrus.FieldLogger
}

func (t *Tool) command(ctx context.Context, arg ...string) *exec.Cmd {
	/* #nosec G204 */
	cmd := exec.CommandContext(ctx, t.Path, arg...)
	cmd.Dir = filepath.Dir(t.Path)
	return cmd
}

// RunGUI starts the flashing tool GUI and waits until the operator closes
// it.
func (t *Tool) RunGUI(ctx context.Context) error {
	t.Log.Info("starting flash tool, close it when it is done")
	cmd := t.command(ctx)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("flash tool: %w", err)
	}
	return nil
}

func (t *Tool) upgradeArgs(flashXML string) []string {
	args := make([]string, len(t.Args))
	for i, a := range t.Args {
		args[i] = strings.ReplaceAll(a, FlashXMLPlaceholder, flashXML)
	}
	return args
}

// RunFirmwareUpgrade runs a console firmware upgrade with the given flash
// configuration. Every output line is passed to progress, percentages are
// logged when they change by at least ten.
func (t *Tool) RunFirmwareUpgrade(ctx context.Context, flashXML string, progress func(*Progress)) error {
	cmd := t.command(ctx, t.upgradeArgs(flashXML)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("cannot create pipe for flash tool: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	t.Log.Info("starting firmware upgrade")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("error starting flash tool: %w", err)
	}

	last := -10
	scanner := NewProgressScanner(stdout)
	for {
		p, err := scanner.Progress()
		if err != nil {
			t.Log.Debugf("cannot read flash tool output: %v", err)
			break
		}
		if p == nil {
			break
		}
		if progress != nil {
			progress(p)
		}
		if p.Percent >= 0 && (p.Percent-last >= 10 || (p.Percent == 100 && last != 100)) {
			t.Log.Infof("firmware upgrade %d%%", p.Percent)
			last = p.Percent
		} else {
			t.Log.Debug(p.Line)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("error running flash tool: %w", err)
	}
	t.Log.Info("firmware upgrade done")
	return nil
}
