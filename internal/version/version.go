package version

// Values are set at build time using -ldflags.
var Version = "dev"
var Built = ""
var GitCommit = ""

type Info struct {
	Version   string `json:"version"`
	Built     string `json:"built,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
}

func GetInfo() Info {
	return Info{
		Version:   Version,
		Built:     Built,
		GitCommit: GitCommit,
	}
}

// String renders the version for CLI output.
func (i Info) String() string {
	out := i.Version
	if i.GitCommit != "" {
		out += " (" + i.GitCommit + ")"
	}
	return out
}
