package power

// Options selects which kinds of sleep the helper process prevents.
// Each field maps to exactly one caffeinate flag. The zero value enables
// nothing, which runs the helper with its own defaults.
type Options struct {
	PreventDisplaySleep    bool `json:"prevent_display_sleep"`     // -d
	PreventSystemIdleSleep bool `json:"prevent_system_idle_sleep"` // -i
	PreventDiskIdleSleep   bool `json:"prevent_disk_idle_sleep"`   // -m
	KeepAwakeOnAC          bool `json:"keep_awake_on_ac"`          // -s
}

// Args returns the caffeinate flags for o in the fixed order -d, -i, -m, -s.
// Disabled options are omitted entirely; caffeinate switches on flag
// presence, not value.
func (o Options) Args() []string {
	args := []string{}
	if o.PreventDisplaySleep {
		args = append(args, "-d")
	}
	if o.PreventSystemIdleSleep {
		args = append(args, "-i")
	}
	if o.PreventDiskIdleSleep {
		args = append(args, "-m")
	}
	if o.KeepAwakeOnAC {
		args = append(args, "-s")
	}
	return args
}
