// Package urls provides centralized constants for all external URLs used
// throughout the application.
//
// All URLs are defined here as exported constants or small builders and
// can be updated in a single location before release.
//
// Usage:
//
//	import "github.com/muurk/patchscan/internal/urls"
//
//	fmt.Printf("Bulletin: %s\n", urls.BulletinURL("2017-05-01"))
package urls
