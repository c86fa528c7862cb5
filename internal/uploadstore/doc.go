// Package uploadstore persists the single in-flight upload record and a cache
// of finished analyses in SQLite.
//
// The upload record lives in one keyed row (slot "active"), so at most one
// attempt can ever be resumed. Rows carry a record version; rows written by an
// incompatible build are refused on load instead of being resumed. Terminal
// records are removed by DeleteIf, which only deletes when the row still
// belongs to the same upload id, so a late cleanup never removes a newer
// attempt.
package uploadstore
