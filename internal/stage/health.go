package stage

// Health is a handler's answer to "can this stage take work now".
type Health struct {
	Name  string
	Ready bool
	// Degraded is set on a ready stage whose capability is short-circuited.
	// Its jobs back off and retry rather than fail.
	Degraded bool
	Detail   string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy marks a stage that cannot run at all, usually a missing
// dependency.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Detail: detail}
}

// Degraded marks a stage that accepts work but currently defers it.
func Degraded(name, detail string) Health {
	return Health{Name: name, Ready: true, Degraded: true, Detail: detail}
}

// Status is the one-word form shown by the API and CLI.
func (h Health) Status() string {
	switch {
	case !h.Ready:
		return "unavailable"
	case h.Degraded:
		return "degraded"
	default:
		return "ready"
	}
}
