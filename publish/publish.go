// Package publish implements the optional external telemetry export sink:
// a non-protected pipeline sink node that mirrors sampled data onto
// ZeroMQ PUB sockets for out-of-process consumers (dashboards, loggers)
// that don't want to speak this project's own command/event bus. Each
// topic is a czmq.Channeler with fixed binary framing built with
// bytes.Buffer and binary.Write, sent as a [][]byte multipart message
// over SendChan.
package publish

import (
	"bytes"
	"encoding/binary"
	"fmt"

	czmq "github.com/zeromq/goczmq"

	"github.com/oscillo/scopewatch/model"
)

// Exporter mirrors DataPackets and CollectionStats onto ZeroMQ PUB
// sockets. Both channelers are optional; a nil channeler means that
// topic isn't exported.
type Exporter struct {
	records *czmq.Channeler
	stats   *czmq.Channeler
}

// NewExporter returns an Exporter with neither topic enabled yet.
func NewExporter() *Exporter { return &Exporter{} }

// HasRecords reports whether the records topic is currently publishing.
func (e *Exporter) HasRecords() bool { return e.records != nil }

// HasStats reports whether the stats topic is currently publishing.
func (e *Exporter) HasStats() bool { return e.stats != nil }

// EnableRecords starts publishing DataPackets on hostname (e.g.
// "tcp://*:5556"). Panics if called twice without DisableRecords, to
// avoid silently leaking a channeler.
func (e *Exporter) EnableRecords(hostname string) {
	if e.records != nil {
		panic("publish: records topic already enabled; call DisableRecords first")
	}
	e.records = czmq.NewPubChanneler(hostname)
}

// DisableRecords tears down the records topic.
func (e *Exporter) DisableRecords() {
	if e.records == nil {
		return
	}
	e.records.Destroy()
	e.records = nil
}

// EnableStats starts publishing CollectionStats on hostname.
func (e *Exporter) EnableStats(hostname string) {
	if e.stats != nil {
		panic("publish: stats topic already enabled; call DisableStats first")
	}
	e.stats = czmq.NewPubChanneler(hostname)
}

// DisableStats tears down the stats topic.
func (e *Exporter) DisableStats() {
	if e.stats == nil {
		return
	}
	e.stats.Destroy()
	e.stats = nil
}

// PublishPacket sends packet on the records topic if enabled. It is meant
// to be used as the forward callback of a pipeline.NewSink node.
func (e *Exporter) PublishPacket(packet *model.DataPacket) {
	if !e.HasRecords() || packet == nil {
		return
	}
	e.records.SendChan <- messageDataPacket(packet)
}

// PublishStats sends stats on the stats topic if enabled.
func (e *Exporter) PublishStats(stats model.CollectionStats) {
	if !e.HasStats() {
		return
	}
	e.stats.SendChan <- messageStats(stats)
}

// Close tears down any enabled topics.
func (e *Exporter) Close() {
	e.DisableRecords()
	e.DisableStats()
}

// messageDataPacket frames a DataPacket for the records topic.
//
//	64 bits: timestamp, nanoseconds
//	32 bits: number of samples
//	per sample: 32 bits var id, 64 bits raw value, 64 bits converted value
func messageDataPacket(p *model.DataPacket) [][]byte {
	header := new(bytes.Buffer)
	binary.Write(header, binary.LittleEndian, int64(p.Timestamp))
	binary.Write(header, binary.LittleEndian, uint32(len(p.Samples)))

	buf := new(bytes.Buffer)
	for _, s := range p.Samples {
		binary.Write(buf, binary.LittleEndian, int32(s.VarID))
		binary.Write(buf, binary.LittleEndian, s.Raw)
		binary.Write(buf, binary.LittleEndian, s.Converted)
	}
	return [][]byte{header.Bytes(), buf.Bytes()}
}

// messageStats frames a CollectionStats snapshot for the stats topic.
//
//	64 bits each: successful reads, failed reads, total bytes read
//	64 bits each (as float64): avg read time us, effective rate hz,
//	  min/max latency us, jitter us
//	64 bits each: bulk reads performed, individual reads saved, dropped messages
func messageStats(s model.CollectionStats) [][]byte {
	header := new(bytes.Buffer)
	binary.Write(header, binary.LittleEndian, s.SuccessfulReads)
	binary.Write(header, binary.LittleEndian, s.FailedReads)
	binary.Write(header, binary.LittleEndian, s.TotalBytesRead)
	binary.Write(header, binary.LittleEndian, s.AvgReadTimeUs)
	binary.Write(header, binary.LittleEndian, s.EffectiveSampleRateHz)
	binary.Write(header, binary.LittleEndian, s.MinLatencyUs)
	binary.Write(header, binary.LittleEndian, s.MaxLatencyUs)
	binary.Write(header, binary.LittleEndian, s.JitterUs)
	binary.Write(header, binary.LittleEndian, s.BulkReadsPerformed)
	binary.Write(header, binary.LittleEndian, s.IndividualReadsSaved)
	binary.Write(header, binary.LittleEndian, s.DroppedMessages)

	buf := new(bytes.Buffer)
	fmt.Fprint(buf, s.MemoryAccessMode)
	return [][]byte{header.Bytes(), buf.Bytes()}
}
