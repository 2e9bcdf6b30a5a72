package models

import "sort"

// Guide is one source document (a spreadsheet or a live page) listed in a
// market directory.
type Guide struct {
	Name      string
	SourceURL string
	// Row is the 1-based row of the guide in the directory tab.
	Row int
}

// GuideToken is the persisted form of one baseline entry.
type GuideToken struct {
	GuideName string `json:"guide_name"`
	Token     string `json:"last_modified_token"`
}

// Baseline maps guide name to the last observed fingerprint token.
type Baseline map[string]string

// Clone returns an independent copy.
func (b Baseline) Clone() Baseline {
	out := make(Baseline, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Entries returns the baseline as a list sorted by guide name.
func (b Baseline) Entries() []GuideToken {
	out := make([]GuideToken, 0, len(b))
	for name, token := range b {
		out = append(out, GuideToken{GuideName: name, Token: token})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuideName < out[j].GuideName })
	return out
}

// BaselineFromEntries rebuilds a baseline. Later duplicates overwrite earlier ones.
func BaselineFromEntries(entries []GuideToken) Baseline {
	b := make(Baseline, len(entries))
	for _, e := range entries {
		if e.GuideName == "" {
			continue
		}
		b[e.GuideName] = e.Token
	}
	return b
}
