package manifest

// Help describes one command for the help listing
type Help struct {
	Command     string `json:"command"`
	Usage       string `json:"usage"`
	Description string `json:"description"`
}

// HelpIndex is built from a Manifest's mappings, in registration order
type HelpIndex struct {
	entries []Help
}

func NewHelpIndex(mappings []Mapping) *HelpIndex {
	entries := make([]Help, 0, len(mappings))
	for _, m := range mappings {
		entries = append(entries, Help{
			Command:     m.Command,
			Usage:       m.Usage(),
			Description: m.Help,
		})
	}
	return &HelpIndex{entries: entries}
}

func (h *HelpIndex) List() []Help {
	if h == nil {
		return nil
	}
	out := make([]Help, len(h.entries))
	copy(out, h.entries)
	return out
}

// Lookup returns the first entry registered for command
func (h *HelpIndex) Lookup(command string) (Help, bool) {
	if h == nil {
		return Help{}, false
	}
	for _, e := range h.entries {
		if e.Command == command {
			return e, true
		}
	}
	return Help{}, false
}
