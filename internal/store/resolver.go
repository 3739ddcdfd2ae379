package store

// Resolver picks which target to try next and remembers which one is active.
// The priority order is PreferredExternal (when enabled), then Networked
// (when configured), then LocalEmbedded.
//
// A Resolver is not safe for concurrent use; callers serialize access.
type Resolver struct {
	preferred    Target
	networked    Target
	local        Target
	usePreferred bool
	active       Target
	provisioned  map[string]bool
}

// NewResolver creates a Resolver over the three targets. Each target's Kind
// is forced to match its position. A networked target with an empty URI is
// left out of the priority order.
func NewResolver(preferred, networked, local Target, usePreferred bool) *Resolver {
	preferred.Kind = PreferredExternal
	networked.Kind = Networked
	local.Kind = LocalEmbedded
	r := &Resolver{
		preferred:    preferred,
		networked:    networked,
		local:        local,
		usePreferred: usePreferred && preferred.URI != "",
		provisioned:  map[string]bool{},
	}
	r.active = r.next(-1)
	return r
}

// Select returns the active target.
func (r *Resolver) Select() Target {
	return r.active
}

// Fallback advances to the next lower-priority target and reports whether
// one exists. Once LocalEmbedded is active it returns false and the active
// target stays put.
func (r *Resolver) Fallback() bool {
	if r.active.Kind == LocalEmbedded {
		return false
	}
	if r.active.Kind == PreferredExternal {
		r.usePreferred = false
	}
	r.active = r.next(r.active.Kind)
	return true
}

// EnablePreferredExternal toggles the preferred-external target. Enabling
// makes it active; disabling it while it is active moves on to the next target.
func (r *Resolver) EnablePreferredExternal(enabled bool) {
	if enabled && r.preferred.URI == "" {
		return
	}
	r.usePreferred = enabled
	switch {
	case enabled:
		r.active = r.preferred
	case r.active.Kind == PreferredExternal:
		r.active = r.next(PreferredExternal)
	}
}

// IsPreferredExternalEnabled reports whether the preferred-external target is in play.
func (r *Resolver) IsPreferredExternalEnabled() bool {
	return r.usePreferred
}

// LocalEmbedded returns the last-resort target.
func (r *Resolver) LocalEmbedded() Target {
	return r.local
}

// Targets lists the configured targets in priority order, whether or not
// the preferred-external target is currently enabled.
func (r *Resolver) Targets() []Target {
	var targets []Target
	if r.preferred.URI != "" {
		targets = append(targets, r.preferred)
	}
	if r.networked.URI != "" {
		targets = append(targets, r.networked)
	}
	return append(targets, r.local)
}

// MarkProvisioned records that schema and seed data were ensured for t.
func (r *Resolver) MarkProvisioned(t Target) {
	r.provisioned[t.URI] = true
}

// Provisioned reports whether MarkProvisioned was called for t.
func (r *Resolver) Provisioned(t Target) bool {
	return r.provisioned[t.URI]
}

// next returns the first eligible target with a lower priority than after.
// Pass -1 to start from the top.
func (r *Resolver) next(after Kind) Target {
	if after < PreferredExternal && r.usePreferred {
		return r.preferred
	}
	if after < Networked && r.networked.URI != "" {
		return r.networked
	}
	return r.local
}
