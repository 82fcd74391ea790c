package urls

import "fmt"

// External references printed next to scan results and setup hints.

// CatalogAPI serves the vulnerability test suites.
const CatalogAPI = "https://snoopsnitch-api.srlabs.de"

// SecurityBulletins is the index of Android security bulletins.
const SecurityBulletins = "https://source.android.com/docs/security/bulletin"

// Binutils provides objdump; an AArch64-capable build is required.
const Binutils = "https://www.gnu.org/software/binutils/"

// BulletinURL returns the bulletin page for a patch level date such as
// "2017-05-01".
func BulletinURL(date string) string {
	if date == "" {
		return SecurityBulletins
	}
	return fmt.Sprintf("%s/%s", SecurityBulletins, date)
}

// CVEDetail returns the NVD page for a CVE id.
func CVEDetail(id string) string {
	return "https://nvd.nist.gov/vuln/detail/" + id
}
