package adb

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// builtinApps maps common display names to package ids.
var builtinApps = map[string]string{
	"settings":   "com.android.settings",
	"chrome":     "com.android.chrome",
	"camera":     "com.android.camera",
	"contacts":   "com.android.contacts",
	"phone":      "com.android.dialer",
	"messages":   "com.google.android.apps.messaging",
	"gmail":      "com.google.android.gm",
	"maps":       "com.google.android.apps.maps",
	"youtube":    "com.google.android.youtube",
	"play store": "com.android.vending",
	"calendar":   "com.google.android.calendar",
	"clock":      "com.google.android.deskclock",
	"calculator": "com.google.android.calculator",
	"photos":     "com.google.android.apps.photos",
	"files":      "com.google.android.documentsui",
	"whatsapp":   "com.whatsapp",
	"telegram":   "org.telegram.messenger",
	"wechat":     "com.tencent.mm",
	"alipay":     "com.eg.android.AlipayGphone",
}

// PackageLister lists installed packages.
type PackageLister interface {
	ListPackages(ctx context.Context) ([]string, error)
}

// Catalog resolves app names to installed packages. It implements
// device.AppResolver.
type Catalog struct {
	lister PackageLister
	extra  map[string]string

	mu        sync.RWMutex
	installed map[string]bool
}

// NewCatalog creates a catalog. extra entries take precedence over the
// built-in names.
func NewCatalog(lister PackageLister, extra map[string]string) *Catalog {
	norm := make(map[string]string, len(extra))
	for k, v := range extra {
		norm[normalize(k)] = v
	}
	return &Catalog{lister: lister, extra: norm}
}

// Rescan refreshes the installed package list.
func (c *Catalog) Rescan(ctx context.Context) error {
	pkgs, err := c.lister.ListPackages(ctx)
	if err != nil {
		return fmt.Errorf("list packages: %w", err)
	}
	installed := make(map[string]bool, len(pkgs))
	for _, p := range pkgs {
		installed[p] = true
	}
	c.mu.Lock()
	c.installed = installed
	c.mu.Unlock()
	return nil
}

// Resolve looks name up without touching the device. Before the first
// Rescan, only the name tables are consulted.
func (c *Catalog) Resolve(_ context.Context, name string) (string, bool) {
	key := normalize(name)
	if key == "" {
		return "", false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if pkg, ok := c.extra[key]; ok {
		return pkg, true
	}
	if pkg, ok := builtinApps[key]; ok && (c.installed == nil || c.installed[pkg]) {
		return pkg, true
	}
	if c.installed[name] {
		return name, true
	}
	// Last package segment, e.g. "deskclock" for com.google.android.deskclock.
	compact := strings.ReplaceAll(key, " ", "")
	best := ""
	for pkg := range c.installed {
		seg := pkg[strings.LastIndexByte(pkg, '.')+1:]
		if strings.EqualFold(seg, compact) && (best == "" || pkg < best) {
			best = pkg
		}
	}
	return best, best != ""
}

func normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
