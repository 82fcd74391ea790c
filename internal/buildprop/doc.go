// Package buildprop reads Android build.prop files and derives the facts
// the vulnerability tests depend on.
//
// A build.prop file is a flat list of key=value lines:
//
//	# begin build properties
//	ro.build.version.release=9
//	ro.build.version.security_patch=2019-05-05
//	ro.board.platform=msm8998
//
// Beyond raw lookups the package derives:
//
//   - the chipset vendor from ro.board.platform
//   - the Android release, falling back to the system partition key
//   - the SDK level, falling back to a release to SDK table
//   - the claimed security patch level, and whether it covers a date
//
// Example:
//
//	path, err := buildprop.Find(firmwareRoot)
//	props, err := buildprop.Load(path)
//	if props.IsPatchDateClaimed("2019-04") {
//	    // firmware claims the April 2019 bulletin
//	}
package buildprop
