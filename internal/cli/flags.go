// Package cli holds small helpers shared by the trackerd, tracksim and
// trackwatch commands.
package cli

import "flag"

type HelpVersionFlags struct {
	Help    bool
	Version bool
}

// AddHelpVersionFlags registers -h/-help and -v/-version on the flag set.
func AddHelpVersionFlags(fs *flag.FlagSet) *HelpVersionFlags {
	flags := &HelpVersionFlags{}
	if fs == nil {
		return flags
	}
	fs.BoolVar(&flags.Help, "help", false, "Show help")
	fs.BoolVar(&flags.Help, "h", false, "Show help")
	fs.BoolVar(&flags.Version, "version", false, "Print version and exit")
	fs.BoolVar(&flags.Version, "v", false, "Print version and exit")
	return flags
}
