// Package buildinfo reports what the running binary was built from.
package buildinfo

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Info is the subset of the embedded build information gitp prints.
type Info struct {
	Version  string
	Revision string
	Modified bool
	Tags     string
}

// Read returns the build information of the binary. Missing values are
// left empty, except Version which falls back to "dev".
func Read() Info {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return Info{Version: "dev"}
	}
	return fromBuildInfo(info)
}

func fromBuildInfo(info *debug.BuildInfo) Info {
	out := Info{Version: info.Main.Version}
	if out.Version == "" || out.Version == "(devel)" {
		out.Version = "dev"
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "-tags":
			out.Tags = s.Value
		case "vcs.revision":
			out.Revision = s.Value
		case "vcs.modified":
			out.Modified = s.Value == "true"
		}
	}
	return out
}

func (i Info) String() string {
	var b strings.Builder
	b.WriteString(i.Version)
	if i.Revision != "" {
		rev := i.Revision
		if len(rev) > 12 {
			rev = rev[:12]
		}
		fmt.Fprintf(&b, " (%s", rev)
		if i.Modified {
			b.WriteString(", dirty")
		}
		b.WriteByte(')')
	}
	if i.Tags != "" {
		fmt.Fprintf(&b, " tags: %s", i.Tags)
	}
	return b.String()
}

// VersionWithTags returns the version line printed by gitp version.
func VersionWithTags() string {
	return Read().String()
}
