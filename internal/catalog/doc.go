// Package catalog loads the vulnerability test catalog.
//
// A catalog is a directory mirroring the catalog server. Its suites index
// (allTestSuites.json) maps an Android API level to two lists of chunk
// URLs, one for basic (atomic) tests and one for vulnerability records:
//
//	{"28": {"basicTestUrls": ["https://snoopsnitch-api.srlabs.de/basic/1.json"],
//	        "vulnerabilitiesUrls": ["https://snoopsnitch-api.srlabs.de/vuln/1.json"]}}
//
// Chunk URLs are mapped to local files by replacing the URL prefix with
// the catalog directory. A chunk document carries "basicTests" (UUID to
// AtomicTest) or "vulnerabilities" (id to Vulnerability); chunks are
// merged in index order and later entries replace earlier ones.
//
// Loader reads a local catalog, optionally requiring a detached OpenPGP
// signature next to every file. Fetcher downloads a catalog with retries
// and exponential backoff.
package catalog
