package adb

import (
	"context"
	"strings"

	"github.com/harun/phonepilot/pkg/device"
)

// Prober detects the permission tier and the authorization bridge state.
// It implements device.TierProber and device.AuthorizationBridge.
type Prober struct {
	client        *Client
	bridgePackage string
}

// NewProber creates a prober. An empty bridgePackage disables the bridge tier.
func NewProber(client *Client, bridgePackage string) *Prober {
	return &Prober{client: client, bridgePackage: bridgePackage}
}

// Tier probes from the strongest tier down. Errors from the root and bridge
// probes only rule those tiers out; an unreachable device is an error.
func (p *Prober) Tier(ctx context.Context) (device.Tier, error) {
	if _, err := p.client.Shell(ctx, "echo", "ok"); err != nil {
		return device.TierBasic, err
	}
	if out, err := p.client.Shell(ctx, "su", "-c", "id"); err == nil && strings.Contains(out, "uid=0") {
		return device.TierRoot, nil
	}
	if err := ctx.Err(); err != nil {
		return device.TierBasic, err
	}
	if p.bridgePackage != "" {
		if running, _ := p.running(ctx); running {
			return device.TierBridge, nil
		}
	}
	return device.TierADB, nil
}

// Ready reports whether the bridge app is running and enabled as an
// accessibility service, which is how it receives launch authorization.
func (p *Prober) Ready(ctx context.Context) (bool, error) {
	if p.bridgePackage == "" {
		return false, nil
	}
	running, err := p.running(ctx)
	if err != nil || !running {
		return false, err
	}
	out, err := p.client.Shell(ctx, "settings", "get", "secure", "enabled_accessibility_services")
	if err != nil {
		return false, err
	}
	return strings.Contains(out, p.bridgePackage), nil
}

func (p *Prober) running(ctx context.Context) (bool, error) {
	out, err := p.client.Shell(ctx, "pidof", p.bridgePackage)
	if err != nil {
		// pidof exits 1 when nothing matches.
		return false, nil
	}
	return strings.TrimSpace(out) != "", nil
}
