// Package version reports build metadata. Version, Commit and the dates are
// set with -ldflags -X at release build time; VCS details embedded by the Go
// toolchain fill whatever was left unset.
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
	GoVersion  string
	VCSDirty   *bool
)

type Info struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

func Get() Info {
	out := Info{
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		out.merge(bi)
	}
	return out
}

// merge fills unset fields from embedded build info. ldflags values win.
func (i *Info) merge(bi *debug.BuildInfo) {
	if i.GoVersion == "" {
		i.GoVersion = bi.GoVersion
	}
	for _, s := range bi.Settings {
		if s.Value == "" {
			continue
		}
		switch s.Key {
		case "vcs.revision":
			if i.Commit == "none" || i.Commit == "" {
				i.Commit = s.Value
			}
		case "vcs.time":
			if i.CommitDate == "" {
				i.CommitDate = s.Value
			}
			if i.BuildDate == "" {
				i.BuildDate = s.Value
			}
		case "vcs.modified":
			if i.VCSDirty == nil && (s.Value == "true" || s.Value == "false") {
				dirty := s.Value == "true"
				i.VCSDirty = &dirty
			}
		}
	}
}

// ShortCommit is the first 12 characters of the commit hash.
func (i Info) ShortCommit() string {
	if len(i.Commit) > 12 {
		return i.Commit[:12]
	}
	return i.Commit
}

// String is the one-line form logged at startup, e.g. "1.4.0 (0123456789ab, dirty)".
func (i Info) String() string {
	s := fmt.Sprintf("%s (%s", i.Version, i.ShortCommit())
	if i.VCSDirty != nil && *i.VCSDirty {
		s += ", dirty"
	}
	return s + ")"
}
