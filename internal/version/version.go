package version

import (
	"fmt"
	"runtime"
)

const ServerName = "Azure Resource Graph MCP"

var (
	GitVersion    = "dev"
	BuildMetadata = ""
	GitCommit     = ""
	GitTreeState  = ""
)

func GetVersion() string {
	var version string
	if BuildMetadata != "" {
		version = fmt.Sprintf("%s+%s", GitVersion, BuildMetadata)
	} else {
		version = GitVersion
	}
	return version
}

func GetVersionInfo() map[string]string {
	return map[string]string{
		"version":      GetVersion(),
		"gitCommit":    GitCommit,
		"gitTreeState": GitTreeState,
		"goVersion":    runtime.Version(),
		"platform":     fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String is the one-line form printed by --version.
func String() string {
	s := fmt.Sprintf("%s Server version %s", ServerName, GetVersion())
	if GitCommit != "" {
		s += fmt.Sprintf(" (commit %s", GitCommit)
		if GitTreeState != "" {
			s += ", " + GitTreeState
		}
		s += ")"
	}
	return s
}
