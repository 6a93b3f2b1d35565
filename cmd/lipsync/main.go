// Package main is the entry point for the lipsync offline CLI.
//
// Usage:
//
//	lipsync [flags] <command> [args]
//
// Commands:
//
//	analyze    - Print the vowel detected in every window of a WAV file
//	calibrate  - Add the windows of a WAV file to one vowel of a profile
//	profile    - Show or reset a calibration profile
//	send       - Stream a WAV file to the service over UDP
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/skypro1111/lipsync-audio-service/cmd/lipsync/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
