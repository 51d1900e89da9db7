// Package cmdrun runs external commands and reports their output and
// exit status.
package cmdrun

// Version is the cmdrun release version.
const Version = "v0.1.0"
