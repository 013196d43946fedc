// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import "decred.org/nftdex/dex"

const (
	// appName is the application name.
	appName string = "nftdexd"
)

// appVersion is the application version. Bump it on release branches.
var appVersion = dex.NewSemver(0, 1, 0)

// Version returns the application version as a string.
func Version() string {
	return appVersion.String()
}
