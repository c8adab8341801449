package build

// CurrentCommit is filled in at link time:
//
//	-ldflags "-X github.com/aachannels/aachan/build.CurrentCommit=$(git rev-parse --short HEAD)"
var CurrentCommit string

// BuildVersion is the version of the daemon. The API carries its own
// version, see api.ChannelsAPIVersion0.
const BuildVersion = "0.1.0"

func UserVersion() string {
	if CurrentCommit == "" {
		return BuildVersion
	}
	return BuildVersion + "+git." + CurrentCommit
}
