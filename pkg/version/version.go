// Package version reports the posedge build, set at link time with
// -ldflags "-X github.com/carverauto/posedge/pkg/version.version=...".
package version

//nolint:gochecknoglobals // overwritten by the linker
var (
	version = "dev"
	buildID = "dev"
)

// Info is the build identity served by the control API.
type Info struct {
	Version string `json:"version"`
	BuildID string `json:"build_id"`
}

func Get() Info {
	return Info{Version: version, BuildID: buildID}
}

// String renders the version with its build ID.
func (i Info) String() string {
	return i.Version + " (build: " + i.BuildID + ")"
}
