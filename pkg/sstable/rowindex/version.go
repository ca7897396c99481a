// Package rowindex implements the per-partition clustering index of the
// SSTable format: the IndexInfo block descriptors, the two-variant
// RowIndexEntry with its lazy read path, and the builder that partitions a
// sorted atom stream into bounded-size index blocks while writing it to the
// data file.
package rowindex

import "github.com/StrataDB/strata/pkg/sstable/clustering"

// Version identifies an on-disk row index format. StoreRows and the messaging
// version together decide whether a serialized payload can be adopted without
// transcoding.
type Version struct {
	Name             string
	StoreRows        bool
	MessagingVersion int
}

// LatestVersion is the format this engine writes. Older versions are read
// through a transcode step on deserialize.
var LatestVersion = Version{
	Name:             "ma",
	StoreRows:        true,
	MessagingVersion: clustering.MessagingVersionCurrent,
}

// LegacyVersion is the newest pre-rows format, kept for upgrade reads
var LegacyVersion = Version{
	Name:             "ka",
	StoreRows:        false,
	MessagingVersion: clustering.MessagingVersionLegacy,
}

// NativeCompatible reports whether payloads written under v can be wrapped
// directly by the latest reader, with no transcode.
func (v Version) NativeCompatible() bool {
	return v.StoreRows == LatestVersion.StoreRows &&
		v.MessagingVersion == LatestVersion.MessagingVersion
}
