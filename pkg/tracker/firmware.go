package tracker

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/openstack/ironic-sub002/pkg/bmc"
	"github.com/openstack/ironic-sub002/pkg/node"
)

// SubmitFirmwareUpdate requests one firmware update per component
// image. Firmware activation always spans a reboot.
func (t *Tracker) SubmitFirmwareUpdate(ctx context.Context, sess node.Session, images []bmc.FirmwareImage) ([]node.PendingOp, error) {
	n := sess.Node()
	addr := BMCAddress(n)
	vendor := bmc.VendorFor(n.Driver.Vendor)
	logCtx := t.logger.WithField("node", n.ID)

	var ops []node.PendingOp
	for _, image := range images {
		result, err := t.client.UpdateFirmware(ctx, addr, image)
		if err != nil {
			return nil, fmt.Errorf("updating firmware component %q: %w", image.Component, err)
		}
		logCtx.WithFields(log.Fields{
			"component": image.Component, "url": image.URL, "monitor": result.TaskMonitor,
		}).Info("Requested a firmware update")
		if op, _ := t.pendingOp(node.OpCreate, "", result, vendor); op != nil {
			ops = append(ops, *op)
		}
	}

	n.SetPendingFirmwareOps(ops)
	if len(ops) > 0 {
		n.SetRebootRequired(true)
		n.SetSkipCurrentStep(true)
		n.SetFirmwarePolling(true)
	}
	if err := sess.Save(); err != nil {
		return nil, err
	}
	return ops, nil
}

// SubmitBIOSApply requests a BIOS settings change. Whether a reboot is
// needed is up to the vendor quirks.
func (t *Tracker) SubmitBIOSApply(ctx context.Context, sess node.Session, settings map[string]string) ([]node.PendingOp, error) {
	n := sess.Node()
	vendor := bmc.VendorFor(n.Driver.Vendor)
	logCtx := t.logger.WithField("node", n.ID)

	result, err := t.client.ApplyBIOSSettings(ctx, BMCAddress(n), settings)
	if err != nil {
		return nil, fmt.Errorf("applying bios settings: %w", err)
	}
	logCtx.WithFields(log.Fields{"settings": settings, "monitor": result.TaskMonitor}).Info("Requested a BIOS settings change")

	var ops []node.PendingOp
	op, rebootNeeded := t.pendingOp(node.OpCreate, "", result, vendor)
	if op != nil {
		ops = append(ops, *op)
	}

	n.SetPendingBIOSOps(ops)
	if len(ops) > 0 {
		n.SetRebootRequired(rebootNeeded)
		n.SetSkipCurrentStep(true)
		n.SetBIOSPolling(true)
	}
	if err := sess.Save(); err != nil {
		return nil, err
	}
	return ops, nil
}
