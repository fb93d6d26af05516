package bmc

import (
	"context"
	"strings"
	"time"
)

// Vendor captures the hardware-specific quirks of a controller family.
// The generic behavior works for well-behaved hardware; vendors with
// known deviations get a small override struct in the table below.
type Vendor interface {
	// SettleTime is how long to wait after submitting a configuration
	// job before the first poll, for controllers that report stale
	// state right after accepting a job.
	SettleTime() time.Duration

	// RebootRequired reports whether a submitted volume change only
	// takes effect after a reboot.
	RebootRequired() bool

	// PrepareJobQueue runs before any submission, for controllers
	// whose job queue must be drained first.
	PrepareJobQueue(ctx context.Context, c Client, addr Address) error
}

type genericVendor struct{}

func (genericVendor) SettleTime() time.Duration { return 0 }
func (genericVendor) RebootRequired() bool      { return true }
func (genericVendor) PrepareJobQueue(context.Context, Client, Address) error {
	return nil
}

// dellVendor: the integrated controller keeps reporting the previous
// configuration for a short window after a job is accepted.
type dellVendor struct {
	genericVendor
}

func (dellVendor) SettleTime() time.Duration { return 30 * time.Second }

// hpeVendor: volume changes on recent controllers apply without a
// reboot.
type hpeVendor struct {
	genericVendor
}

func (hpeVendor) RebootRequired() bool { return false }

var vendorTable = map[string]Vendor{
	"dell": dellVendor{},
	"hpe":  hpeVendor{},
}

// VendorFor picks the quirk set for a vendor identity, falling back to
// the generic behavior for anything unknown.
func VendorFor(id string) Vendor {
	if v, ok := vendorTable[strings.ToLower(id)]; ok {
		return v
	}
	return genericVendor{}
}
