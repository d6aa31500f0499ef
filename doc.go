// Package harvester harvests metadata records from OAI-PMH repositories into
// a single file. The Open Archives Initiative Protocol for Metadata
// Harvesting (OAI-PMH) is a low-barrier mechanism for repository
// interoperability.
//
// Records are retrieved either with ListRecords, or by listing identifiers
// and fetching each record with GetRecord. The latter tolerates single
// failing records up to a configurable number of errors.
//
// Basic usage:
//
//	$ oai -h https://dspace.mit.edu/oai/request -o records.xml harvest -f 2022-01-01
package harvester
