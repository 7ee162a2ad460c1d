// Package abslot makes dual-slot (A/B) scatter entries consistent before the
// partition policies run.
//
// Vendor descriptors frequently enable only one slot of a pair, or name the
// image on only one of them. The flashing tool writes exactly what the
// descriptor says, so an inconsistent pair leaves one slot stale. Descriptors
// for platforms that ship with either eMMC or UFS storage also carry every
// entry twice, and only one of the copies may be filled in.
package abslot

import (
	"github.com/sirupsen/logrus"

	"github.com/lpmbox/lpmbox/pkg/scatter"
)

// bases that are always flashed on both slots
var alwaysFlashed = map[string]bool{
	"boot":   true,
	"vbmeta": true,
}

// bases that are supplied outside of the flashing tool and must not be
// touched by the storage variant fixup
var externallySupplied = map[string]bool{
	"lk":   true,
	"dtbo": true,
}

// IsExternallySupplied reports whether the partition base is provisioned
// outside of the flashing tool (lk and dtbo).
func IsExternallySupplied(name string) bool {
	return externallySupplied[scatter.BaseName(name)]
}

// Reconcile pairs A/B slots and fixes storage variants in place.
func Reconcile(t *scatter.Table, log logrus.FieldLogger) {
	pairSlots(t, log)
	fixStorageVariants(t, log)

	if t.Find("proinfo") == nil {
		log.Warn("proinfo partition not found in scatter")
	}
}

type pairKey struct {
	storage scatter.StorageMedium
	base    string
}

type slotPair struct {
	a, b *scatter.Partition
}

func pairSlots(t *scatter.Table, log logrus.FieldLogger) {
	pairs := map[pairKey]*slotPair{}
	var order []pairKey

	for _, p := range t.Partitions() {
		base, slot := scatter.SplitSlot(p.Name)
		if slot == "" {
			continue
		}
		key := pairKey{storage: p.Storage, base: base}
		sp := pairs[key]
		if sp == nil {
			sp = &slotPair{}
			pairs[key] = sp
			order = append(order, key)
		}
		// first entry wins if a descriptor repeats a slot
		switch {
		case slot == "a" && sp.a == nil:
			sp.a = p
		case slot == "b" && sp.b == nil:
			sp.b = p
		}
	}

	for _, key := range order {
		sp := pairs[key]
		if sp.a == nil || sp.b == nil {
			continue
		}
		a, b := sp.a, sp.b

		download := a.Download || b.Download
		upgradable := a.Upgradable || b.Upgradable
		file := a.File
		if file == "" {
			file = b.File
		}
		if a.File != "" && b.File != "" && a.File != b.File {
			log.Warnf("slots of %s reference different images (%s, %s), using slot a", key.base, a.File, b.File)
		}
		if alwaysFlashed[key.base] {
			download = true
			upgradable = true
		}

		for _, p := range []*scatter.Partition{a, b} {
			if p.Download != download {
				log.Debugf("%s: download %v -> %v", p.Name, p.Download, download)
			}
			p.Download = download
			p.Upgradable = upgradable
			p.File = file
		}
	}
}

type variantKey struct {
	base string
	slot string
}

func fixStorageVariants(t *scatter.Table, log logrus.FieldLogger) {
	variants := map[variantKey][]*scatter.Partition{}
	var order []variantKey

	for _, p := range t.Partitions() {
		if p.Storage == scatter.StorageUnspecified {
			continue
		}
		base, slot := scatter.SplitSlot(p.Name)
		if externallySupplied[base] {
			continue
		}
		key := variantKey{base: base, slot: slot}
		if _, ok := variants[key]; !ok {
			order = append(order, key)
		}
		variants[key] = append(variants[key], p)
	}

	for _, key := range order {
		entries := variants[key]

		var source *scatter.Partition
		mediums := map[scatter.StorageMedium]bool{}
		for _, p := range entries {
			mediums[p.Storage] = true
			if source == nil && p.Action().IsFlash() {
				source = p
			}
		}
		if len(mediums) < 2 || source == nil {
			continue
		}

		for _, p := range entries {
			if p.Storage == source.Storage {
				continue
			}
			if p.Action() != source.Action() || !p.Upgradable {
				log.Debugf("%s (%s): using %s from %s", p.Name, p.Storage, source.File, source.Storage)
			}
			p.Enable(source.File)
		}
	}
}
