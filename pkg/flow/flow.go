// Package flow runs the firmware upgrade sequences: it talks to the phone,
// prepares the scatter descriptor and drives the flashing tool.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lpmbox/lpmbox/pkg/config"
	"github.com/lpmbox/lpmbox/pkg/device"
	"github.com/lpmbox/lpmbox/pkg/prepare"
	"github.com/lpmbox/lpmbox/pkg/scatter"
	"github.com/lpmbox/lpmbox/pkg/spft"
	"github.com/lpmbox/lpmbox/pkg/workspace"
)

// Device is the phone as seen through adb.
type Device interface {
	device.PropReader
	WaitForDevice(ctx context.Context, timeout time.Duration) device.WaitResult
	Reboot(ctx context.Context, target string) error
	KillServer(ctx context.Context)
}

// Bootloader is the phone in fastboot mode.
type Bootloader interface {
	WaitForDevice(ctx context.Context, timeout time.Duration) device.WaitResult
	EnsureSlotA(ctx context.Context) error
	Reboot(ctx context.Context) error
}

type Flasher interface {
	RunGUI(ctx context.Context) error
	RunFirmwareUpgrade(ctx context.Context, flashXML string, progress func(*spft.Progress)) error
}

// Env is everything a flow needs. It is built once per run.
type Env struct {
	Config     *config.Config
	Log        logrus.FieldLogger
	Device     Device
	Bootloader Bootloader
	Flasher    Flasher
	Decrypter  scatter.Decrypter
	// Settle is the pause between steps that lets the device catch up
	Settle time.Duration
	Now    func() time.Time
}

type Options struct {
	// ChangeCountry flashes proinfo, the operator writes the new region
	// with the flashing tool GUI before the upgrade
	ChangeCountry bool
	// KeepData upgrades without wiping userdata
	KeepData bool
}

// WaitError is returned when a device did not show up.
type WaitError struct {
	What   string
	Result device.WaitResult
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("waiting for %s: %s", e.What, e.Result)
}

func (env *Env) settle(ctx context.Context) error {
	if env.Settle <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(env.Settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (env *Env) now() time.Time {
	if env.Now != nil {
		return env.Now()
	}
	return time.Now()
}

func (env *Env) workspace() *workspace.Workspace {
	layout := env.Config.Layout()
	return &workspace.Workspace{
		ImageDir:    layout.ImageDir,
		ReadbackDir: layout.ReadbackDir,
		ToolsDir:    layout.ToolsDir,
	}
}

func (env *Env) waitForDevice(ctx context.Context) error {
	res := env.Device.WaitForDevice(ctx, env.Config.DeviceTimeout())
	switch res {
	case device.Found:
		return nil
	case device.Cancelled:
		return ctx.Err()
	default:
		return &WaitError{What: "device", Result: res}
	}
}

// prepared is the state shared by both flows once the descriptor is ready.
type prepared struct {
	platform string
	flashXML string
	output   string
}

// prepareRun runs the common first half of both flows. It returns nil
// without an error when the run ends early with nothing to report.
func (env *Env) prepareRun(ctx context.Context, opts Options) (*prepared, error) {
	log := env.Log
	if err := env.waitForDevice(ctx); err != nil {
		return nil, err
	}
	if err := env.settle(ctx); err != nil {
		return nil, err
	}

	info, err := device.ReadInfo(ctx, env.Device, log)
	if err != nil {
		return nil, err
	}
	ws := env.workspace()
	ws.CleanupBeforeFlow(log)
	if err := env.settle(ctx); err != nil {
		return nil, err
	}

	flashXML, err := spft.CheckFlashXMLPlatform(env.Config.FlashXMLCandidates(), info.Platform)
	if err != nil {
		return nil, err
	}
	log.Infof("flash.xml matches %s", info.Platform)
	if err := env.settle(ctx); err != nil {
		return nil, err
	}

	layout := env.Config.Layout()
	if opts.ChangeCountry && info.CountryCode == device.UnknownCountry {
		log.Warn("changing the country of a device with an unknown country code")
	}
	log.Info("preparing scatter")
	res, err := prepare.Run(prepare.Options{
		ImageDir:      layout.ImageDir,
		Platform:      info.Platform,
		CountryChange: opts.ChangeCountry,
		KeepUserData:  opts.KeepData,
		Decrypter:     env.Decrypter,
	}, log)
	var notFound *scatter.NotFoundError
	if errors.As(err, &notFound) {
		log.Errorf("scatter not found: %s", notFound.Path)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := prepare.StageBootImages(layout.LkDtboDir, layout.ImageDir, log); err != nil {
		log.Debugf("cannot stage lk/dtbo images: %v", err)
	}
	if err := env.settle(ctx); err != nil {
		return nil, err
	}

	ws.RemoveHistory(log)
	if opts.ChangeCountry {
		if err := env.Flasher.RunGUI(ctx); err != nil {
			return nil, err
		}
	} else {
		log.Info("country unchanged")
	}

	if err := env.waitForDevice(ctx); err != nil {
		return nil, err
	}
	return &prepared{platform: info.Platform, flashXML: flashXML, output: res.Output}, nil
}

func (env *Env) backup(p *prepared) {
	dst, err := prepare.Backup(p.output, env.Config.Layout().LogsDir, p.platform, env.now())
	if err != nil {
		env.Log.Warnf("cannot back up scatter: %v", err)
		return
	}
	env.Log.Infof("scatter backed up to %s", dst)
}

func (env *Env) finish(ctx context.Context, p *prepared) error {
	env.Log.Info("waiting for preloader, the flash tool picks up the device")
	if err := env.Flasher.RunFirmwareUpgrade(ctx, p.flashXML, nil); err != nil {
		return err
	}
	env.workspace().CleanupAfterFlow(p.platform, env.Log)
	env.Log.Info("firmware upgrade finished")
	env.Device.KillServer(ctx)
	return nil
}

func (env *Env) run(ctx context.Context, name string, body func(ctx context.Context) error) error {
	env.Log.Infof("%s started", name)
	err := body(ctx)
	if ctx.Err() != nil {
		env.Log.Warnf("%s cancelled", name)
		env.Device.KillServer(context.Background())
		return ctx.Err()
	}
	if err != nil {
		env.Log.Errorf("%s aborted: %v", name, err)
	}
	return err
}

// GlobalUpgrade flashes the full firmware. The device goes through fastboot
// first so that slot A is active when the flashing tool takes over.
func GlobalUpgrade(ctx context.Context, env *Env, opts Options) error {
	opts.KeepData = false
	return env.run(ctx, "firmware upgrade", func(ctx context.Context) error {
		p, err := env.prepareRun(ctx, opts)
		if err != nil || p == nil {
			return err
		}

		if err := env.Device.Reboot(ctx, "bootloader"); err != nil {
			return fmt.Errorf("cannot reboot to bootloader: %w", err)
		}
		res := env.Bootloader.WaitForDevice(ctx, env.Config.FastbootTimeout())
		if res == device.Cancelled {
			return ctx.Err()
		}
		if res != device.Found {
			return &WaitError{What: "fastboot device", Result: res}
		}
		if err := env.Bootloader.EnsureSlotA(ctx); err != nil {
			env.Log.Warnf("cannot switch to slot A: %v", err)
		}
		env.backup(p)
		if err := env.Bootloader.Reboot(ctx); err != nil {
			env.Log.Warnf("fastboot reboot: %v", err)
		}
		return env.finish(ctx, p)
	})
}

// KeepDataUpgrade flashes the firmware but leaves userdata alone.
func KeepDataUpgrade(ctx context.Context, env *Env, opts Options) error {
	opts.KeepData = true
	return env.run(ctx, "keep-data firmware upgrade", func(ctx context.Context) error {
		p, err := env.prepareRun(ctx, opts)
		if err != nil || p == nil {
			return err
		}

		env.Log.Info("rebooting device")
		env.backup(p)
		if err := env.Device.Reboot(ctx, ""); err != nil {
			return fmt.Errorf("cannot reboot device: %w", err)
		}
		return env.finish(ctx, p)
	})
}
