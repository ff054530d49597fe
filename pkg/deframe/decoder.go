package deframe

import "encoding/json"

// Stats counts what a Decoder has seen. Discarded candidates are balanced
// brace spans that failed to decode; they are expected noise and only
// surface here.
type Stats struct {
	Fragments int
	Objects   int
	Discarded int
}

// Decoder carries residue between Feed calls for a single stream.
// It is not safe for concurrent use; one stream owns one Decoder.
type Decoder struct {
	residue []byte
	stats   Stats
}

// NewDecoder returns a Decoder with empty residue.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Write consumes the next fragment and returns the objects it completed.
func (d *Decoder) Write(fragment []byte) []json.RawMessage {
	res := scan(join(d.residue, fragment))
	d.residue = res.residue

	d.stats.Fragments++
	d.stats.Objects += len(res.objects)
	d.stats.Discarded += res.discarded

	return res.objects
}

// Residue returns the unconsumed text carried into the next Write.
func (d *Decoder) Residue() []byte {
	return d.residue
}

// Stats returns the running counters.
func (d *Decoder) Stats() Stats {
	return d.stats
}
