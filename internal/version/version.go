package version

import "fmt"

// Заполняются через -ldflags при сборке релиза:
//
//	-X .../internal/version.version=v1.2.3
//	-X .../internal/version.commit=abc1234
//	-X .../internal/version.date=2026-08-25T10:00:00Z
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info — сведения о сборке сервиса.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Get возвращает сведения о текущей сборке.
func Get() Info {
	return Info{Version: version, Commit: commit, Date: date}
}

// String возвращает однострочную форму для стартового лога и флага -version.
func (i Info) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", i.Version, i.Commit, i.Date)
}
