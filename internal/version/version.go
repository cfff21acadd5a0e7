package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const (
	AppName    = "drivesync"
	devVersion = "0.1.0-dev"
)

// Release builds set these with
// -ldflags "-X github.com/openmined/drivesync/internal/version.Version=1.2.3".
var (
	Version   = devVersion
	Revision  = ""
	BuildDate = ""
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	BuildDate string `json:"buildDate,omitempty"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// Get combines the ldflags values with the module and VCS stamps of the build.
func Get() Info {
	info := Info{
		Version:   Version,
		Revision:  Revision,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.stamp(bi.Main.Version, bi.Settings)
	}
	if info.Revision == "" {
		info.Revision = "unknown"
	}
	return info
}

func (i *Info) stamp(module string, settings []debug.BuildSetting) {
	if i.Version == devVersion && module != "" && module != "(devel)" {
		i.Version = strings.TrimPrefix(module, "v")
	}

	var revision string
	dirty := false
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		case "vcs.time":
			if i.BuildDate == "" {
				i.BuildDate = s.Value
			}
		}
	}
	if i.Revision == "" && revision != "" {
		i.Revision = revision
		if dirty {
			i.Revision += "-dirty"
		}
	}
}

// String renders `drivesync 0.1.0 (5e23a4; go1.23.6; linux/amd64; 2025-01-02T03:04:05Z)`.
func (i Info) String() string {
	details := []string{i.Revision, i.GoVersion, i.Platform}
	if i.BuildDate != "" {
		details = append(details, i.BuildDate)
	}
	return fmt.Sprintf("%s %s (%s)", AppName, i.Version, strings.Join(details, "; "))
}

// AppID identifies the client to remote stores.
func (i Info) AppID() string {
	return AppName + "-" + i.Version
}
