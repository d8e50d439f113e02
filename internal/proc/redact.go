package proc

import (
	"strings"
)

// RedactedValue replaces secret argument values in log output
const RedactedValue = "*****"

// secretFlags are downloader arguments whose following value must never be
// written to logs or audit records.
var secretFlags = []string{
	"--username",
	"--password",
	"--video-password",
	"-u",
	"-p",
}

// RedactArgs returns a copy of args safe for logging: values following
// credential flags (and inline --flag=value forms) are masked.
func RedactArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)

	for i := 0; i < len(out); i++ {
		for _, flag := range secretFlags {
			if out[i] == flag {
				if i+1 < len(out) {
					out[i+1] = RedactedValue
				}
				break
			}
			if strings.HasPrefix(out[i], flag+"=") {
				out[i] = flag + "=" + RedactedValue
				break
			}
		}
	}
	return out
}
