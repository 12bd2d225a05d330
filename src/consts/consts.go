package consts

import (
	"fmt"
	"os"
	"runtime"
)

const (
	AppName = "CamVigil"

	// ArchiveDirName is created under every archive root.
	ArchiveDirName = "CamVigilArchives"
	// StoreFileName is the metadata database inside ArchiveDirName.
	StoreFileName = "camvigil.db"
)

type Info struct {
	AppName    string `json:"app_name"`
	AppVersion string `json:"app_version"`
	BuildTime  string `json:"build_time"`
	GitHash    string `json:"git_hash"`
	Pid        int    `json:"pid"`
	Platform   string `json:"platform"`
	GoVersion  string `json:"go_version"`
}

// injected with -ldflags
var (
	BuildTime  string
	AppVersion string
	GitHash    string
)

// GetAppInfo must stay a function: the ldflags values are only set at link time.
func GetAppInfo() Info {
	return Info{
		AppName:    AppName,
		AppVersion: AppVersion,
		BuildTime:  BuildTime,
		GitHash:    GitHash,
		Pid:        os.Getpid(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		GoVersion:  runtime.Version(),
	}
}
