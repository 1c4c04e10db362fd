package version

import (
	"fmt"
	"runtime"
)

// Set at build time with -ldflags "-X github.com/notPlancha/CanvasSync/pkg/version.Version=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

func Get() *Info {
	return &Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

func (i *Info) String() string {
	return fmt.Sprintf("canvassync %s (%s) built %s, %s %s", i.Version, i.GitCommit, i.BuildTime, i.GoVersion, i.Platform)
}

// UserAgent identifies the client in backend requests
func (i *Info) UserAgent() string {
	return fmt.Sprintf("canvassync/%s (%s)", i.Version, i.Platform)
}
