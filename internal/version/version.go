package version

import "runtime/debug"

// Version is the release version, overridable at build time via ldflags
var Version = "0.1.0"

// Commit returns the VCS revision the binary was built from, if known
func Commit() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				if len(setting.Value) > 7 {
					return setting.Value[:7]
				}
				return setting.Value
			}
		}
	}
	return "unknown"
}
