package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo_Stamp(t *testing.T) {
	vcs := []debug.BuildSetting{
		{Key: "vcs", Value: "git"},
		{Key: "vcs.revision", Value: "abc123"},
		{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
		{Key: "vcs.modified", Value: "true"},
	}

	cases := []struct {
		name     string
		info     Info
		module   string
		settings []debug.BuildSetting
		want     Info
	}{
		{
			name:     "dev build takes module version and vcs stamps",
			info:     Info{Version: devVersion},
			module:   "v0.3.1",
			settings: vcs,
			want:     Info{Version: "0.3.1", Revision: "abc123-dirty", BuildDate: "2026-01-02T03:04:05Z"},
		},
		{
			name:     "devel module version is not a release",
			info:     Info{Version: devVersion},
			module:   "(devel)",
			settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc123"}},
			want:     Info{Version: devVersion, Revision: "abc123"},
		},
		{
			name:     "ldflags win",
			info:     Info{Version: "1.2.3", Revision: "deadbeef", BuildDate: "from-ldflags"},
			module:   "v9.9.9",
			settings: vcs,
			want:     Info{Version: "1.2.3", Revision: "deadbeef", BuildDate: "from-ldflags"},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			info := c.info
			info.stamp(c.module, c.settings)
			assert.Equal(t, c.want, info)
		})
	}
}

func TestInfo_String(t *testing.T) {
	info := Info{Version: "1.2.3", Revision: "abc", GoVersion: "go1.23.6", Platform: "linux/amd64"}
	assert.Equal(t, "drivesync 1.2.3 (abc; go1.23.6; linux/amd64)", info.String())

	info.BuildDate = "2026-01-02"
	assert.Equal(t, "drivesync 1.2.3 (abc; go1.23.6; linux/amd64; 2026-01-02)", info.String())
	assert.Equal(t, "drivesync-1.2.3", info.AppID())
}

func TestGet(t *testing.T) {
	info := Get()
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.NotEmpty(t, info.Revision)
	assert.True(t, strings.HasPrefix(info.String(), "drivesync "))
}
