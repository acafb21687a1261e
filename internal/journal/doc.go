// Package journal writes capture sessions to MCAP files.
//
// One Journal backs a whole session: every camera topic gets its own channel
// carrying foxglove.CompressedVideo messages encoded as JSON, so the file
// opens directly in Foxglove and other MCAP tooling. Writes from concurrent
// workers are serialized internally.
//
//	j, err := journal.Open(journal.Options{Path: "out/camlog.mcap"})
//	sink, err := j.OpenSink("/camera/0/image/compressed")
//	err = sink.Write(record)
//	err = j.Close()
package journal
