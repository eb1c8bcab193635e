// Package dispatch executes parsed actions against the device.
//
// A Dispatcher recomputes the backend context for every call: it probes the
// permission tier, reads the remote display feature flag, and looks up the
// session's remote controller, then hands the action to either the local
// adb backend (wrapped so the feedback overlay is hidden while input is
// injected) or the remote virtual-display backend. Backend failures become
// failed Results; only cancellation is returned as an error.
package dispatch
