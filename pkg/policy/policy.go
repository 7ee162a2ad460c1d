// Package policy holds the partition policies applied to a reconciled
// scatter table. Every patcher is idempotent and only touches the entries
// it is about.
package policy

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lpmbox/lpmbox/pkg/abslot"
	"github.com/lpmbox/lpmbox/pkg/scatter"
)

const (
	proinfoPartition  = "proinfo"
	userdataPartition = "userdata"
	userdataImage     = "userdata.img"
)

// Patcher mutates a scatter table. A missing partition is reported as an
// error wrapping ErrPolicyWarning.
type Patcher interface {
	Name() string
	Apply(t *scatter.Table) error
}

type countryPolicy struct {
	enable bool
}

// CountryPolicy flashes the proinfo (country/region) partition when enable
// is set and excludes it otherwise.
func CountryPolicy(enable bool) Patcher {
	return countryPolicy{enable: enable}
}

func (c countryPolicy) Name() string {
	return fmt.Sprintf("country-policy(enable=%v)", c.enable)
}

func (c countryPolicy) Apply(t *scatter.Table) error {
	parts := t.FindAll(proinfoPartition)
	if len(parts) == 0 {
		return Warning(proinfoPartition, "partition not found")
	}
	for _, p := range parts {
		if c.enable {
			p.Enable(proinfoPartition)
		} else {
			p.Disable()
		}
	}
	return nil
}

type bootPartitionExclusion struct{}

// BootPartitionExclusion keeps the flashing tool away from lk and dtbo, on
// every slot and storage medium. Those are provisioned separately.
func BootPartitionExclusion() Patcher {
	return bootPartitionExclusion{}
}

func (bootPartitionExclusion) Name() string {
	return "boot-partition-exclusion"
}

func (bootPartitionExclusion) Apply(t *scatter.Table) error {
	found := false
	for _, p := range t.Partitions() {
		if !abslot.IsExternallySupplied(p.Name) {
			continue
		}
		found = true
		p.Disable()
	}
	if !found {
		return Warning("no lk or dtbo partitions found")
	}
	return nil
}

type userDataPreservation struct {
	keep bool
}

// UserDataPreservation excludes userdata from flashing so a firmware upgrade
// keeps the user's storage. proinfo stays flashable so the region can still
// change. With keep unset it does nothing.
func UserDataPreservation(keep bool) Patcher {
	return userDataPreservation{keep: keep}
}

func (u userDataPreservation) Name() string {
	return fmt.Sprintf("userdata-preservation(keep=%v)", u.keep)
}

func (u userDataPreservation) Apply(t *scatter.Table) error {
	if !u.keep {
		return nil
	}

	var warnings []error
	userdata := t.FindAll(userdataPartition)
	if len(userdata) == 0 {
		warnings = append(warnings, Warning(userdataPartition, "partition not found"))
	}
	for _, p := range userdata {
		p.File = userdataImage
		p.Download = false
		p.Upgradable = false
	}

	proinfo := t.FindAll(proinfoPartition)
	if len(proinfo) == 0 {
		warnings = append(warnings, Warning(proinfoPartition, "partition not found"))
	}
	for _, p := range proinfo {
		p.Enable(proinfoPartition)
	}

	return errors.Join(warnings...)
}

// Pipeline returns the patchers of a flashing run in their fixed order.
func Pipeline(countryChange, keepUserData bool) []Patcher {
	return []Patcher{
		CountryPolicy(countryChange),
		BootPartitionExclusion(),
		UserDataPreservation(keepUserData),
	}
}

// ApplyAll runs the patchers in order. Warnings are logged and skipped, any
// other error stops the run.
func ApplyAll(t *scatter.Table, log logrus.FieldLogger, patchers ...Patcher) error {
	for _, p := range patchers {
		err := p.Apply(t)
		switch {
		case err == nil:
			log.Debugf("applied %s", p.Name())
		case onlyWarnings(err):
			for _, w := range splitJoined(err) {
				log.Warnf("%s: %v", p.Name(), w)
			}
		default:
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return nil
}

func splitJoined(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
