package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_SemverOrDev(t *testing.T) {
	if Version == "dev" {
		return
	}
	assert.Regexp(t, regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.]+)?$`), Version)
}

func TestGetInfo_UsesLdflagValues(t *testing.T) {
	// Given: commit and date injected at link time
	oldCommit, oldDate := Commit, Date
	t.Cleanup(func() { Commit, Date = oldCommit, oldDate })
	Commit, Date = "abc123", "2026-01-02T03:04:05Z"

	// When: reading build info
	info := GetInfo()

	// Then: injected values win over the VCS stamp
	assert.Equal(t, "abc123", info.Commit)
	assert.Equal(t, "2026-01-02T03:04:05Z", info.Date)
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestString_NamesProgramAndPlatform(t *testing.T) {
	s := String()
	assert.Contains(t, s, Name+" "+Version)
	assert.Contains(t, s, runtime.GOOS+"/"+runtime.GOARCH)
	assert.Equal(t, Version, Short())
}

func TestShortCommit(t *testing.T) {
	assert.Equal(t, "0123456789ab", shortCommit("0123456789abcdef0123"))
	assert.Equal(t, "abc", shortCommit("abc"))
}

func TestBuildInfo_JSONKeys(t *testing.T) {
	data, err := json.Marshal(GetInfo())
	require.NoError(t, err)

	var keys map[string]string
	require.NoError(t, json.Unmarshal(data, &keys))
	for _, k := range []string{"version", "commit", "date", "go_version", "os", "arch"} {
		assert.Contains(t, keys, k)
	}
}
