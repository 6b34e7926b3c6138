// Package recordfmt implements the three on-disk record formats a
// Persistence config can select (csv, json_lines, binary), sharing a
// common CreateFile, WriteHeader, WriteRecord, Flush, Close lifecycle
// with headerWritten/recordsWritten bookkeeping across scalar Variable
// samples.
package recordfmt

import (
	"bufio"
	"encoding/binary"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/oscillo/scopewatch/scopeerr"
)

// Format names a persisted-record encoding.
type Format string

const (
	FormatCSV       Format = "csv"
	FormatJSONLines Format = "json_lines"
	FormatBinary    Format = "binary"
)

// Record is one persisted sample: timestamp_us, an optional
// variable_name and variable_address, variable_id, raw_value, and
// converted_value.
type Record struct {
	TimestampUs     uint64
	VariableID      uint32
	VariableName    string // only populated/written if Options.IncludeVariableName
	VariableAddress uint64 // only populated/written if Options.IncludeVariableAddress
	RawValue        float64
	ConvertedValue  float64
}

// Options controls which optional columns a Writer emits.
type Options struct {
	IncludeVariableName    bool
	IncludeVariableAddress bool
	AppendMode             bool
}

// Writer is the common lifecycle every format implements: CreateFile once,
// WriteHeader once, then any number of WriteRecord/Flush calls, then Close.
type Writer interface {
	CreateFile() error
	WriteHeader() error
	WriteRecord(r Record) error
	Flush() error
	Close() error
	HeaderWritten() bool
	RecordsWritten() int
}

// New constructs the Writer for format, writing to path.
func New(format Format, path string, opts Options) (Writer, error) {
	switch format {
	case FormatCSV:
		return newCSVWriter(path, opts), nil
	case FormatJSONLines:
		return newJSONLinesWriter(path, opts), nil
	case FormatBinary:
		return newBinaryWriter(path, opts), nil
	}
	return nil, fmt.Errorf("recordfmt: %w: %q", scopeerr.ErrUnknownFormat, format)
}

// csvWriter emits one header row of column names followed by one row per
// record, columns gated by Options.
type csvWriter struct {
	path           string
	opts           Options
	file           *os.File
	w              *csv.Writer
	headerWritten  bool
	recordsWritten int
}

func newCSVWriter(path string, opts Options) *csvWriter { return &csvWriter{path: path, opts: opts} }

func (w *csvWriter) CreateFile() error {
	f, err := openForWrite(w.path, w.opts.AppendMode)
	if err != nil {
		return err
	}
	w.file = f
	w.w = csv.NewWriter(f)
	return nil
}

func (w *csvWriter) WriteHeader() error {
	if w.headerWritten {
		return fmt.Errorf("recordfmt: csv header already written")
	}
	row := []string{"timestamp_us"}
	if w.opts.IncludeVariableName {
		row = append(row, "variable_name")
	}
	if w.opts.IncludeVariableAddress {
		row = append(row, "variable_address")
	}
	row = append(row, "variable_id", "raw_value", "converted_value")
	if err := w.w.Write(row); err != nil {
		return fmt.Errorf("recordfmt: write csv header: %w", err)
	}
	w.headerWritten = true
	return nil
}

func (w *csvWriter) WriteRecord(r Record) error {
	row := []string{strconv.FormatUint(r.TimestampUs, 10)}
	if w.opts.IncludeVariableName {
		row = append(row, r.VariableName)
	}
	if w.opts.IncludeVariableAddress {
		row = append(row, "0x"+strconv.FormatUint(r.VariableAddress, 16))
	}
	row = append(row,
		strconv.FormatUint(uint64(r.VariableID), 10),
		strconv.FormatFloat(r.RawValue, 'g', -1, 64),
		strconv.FormatFloat(r.ConvertedValue, 'g', -1, 64),
	)
	if err := w.w.Write(row); err != nil {
		return fmt.Errorf("recordfmt: write csv record: %w", err)
	}
	w.recordsWritten++
	return nil
}

func (w *csvWriter) Flush() error {
	w.w.Flush()
	return w.w.Error()
}

func (w *csvWriter) Close() error {
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		return err
	}
	return w.file.Close()
}

func (w *csvWriter) HeaderWritten() bool  { return w.headerWritten }
func (w *csvWriter) RecordsWritten() int  { return w.recordsWritten }

// jsonLinesWriter emits one JSON object per record, newline-delimited; it
// has no header row, since each line is self-describing.
type jsonLinesWriter struct {
	path           string
	opts           Options
	file           *os.File
	bw             *bufio.Writer
	headerWritten  bool
	recordsWritten int
}

func newJSONLinesWriter(path string, opts Options) *jsonLinesWriter {
	return &jsonLinesWriter{path: path, opts: opts}
}

func (w *jsonLinesWriter) CreateFile() error {
	f, err := openForWrite(w.path, w.opts.AppendMode)
	if err != nil {
		return err
	}
	w.file = f
	w.bw = bufio.NewWriter(f)
	return nil
}

// WriteHeader is a no-op for json_lines but still marks headerWritten so
// callers using the common Writer lifecycle don't special-case this format.
func (w *jsonLinesWriter) WriteHeader() error {
	w.headerWritten = true
	return nil
}

type jsonLineRecord struct {
	TimestampUs     uint64  `json:"timestamp_us"`
	VariableName    string  `json:"variable_name,omitempty"`
	VariableAddress *string `json:"variable_address,omitempty"`
	VariableID      uint32  `json:"variable_id"`
	RawValue        float64 `json:"raw_value"`
	ConvertedValue  float64 `json:"converted_value"`
}

func (w *jsonLinesWriter) WriteRecord(r Record) error {
	line := jsonLineRecord{
		TimestampUs:    r.TimestampUs,
		VariableID:     r.VariableID,
		RawValue:       r.RawValue,
		ConvertedValue: r.ConvertedValue,
	}
	if w.opts.IncludeVariableName {
		line.VariableName = r.VariableName
	}
	if w.opts.IncludeVariableAddress {
		addr := "0x" + strconv.FormatUint(r.VariableAddress, 16)
		line.VariableAddress = &addr
	}
	enc, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("recordfmt: marshal json_lines record: %w", err)
	}
	if _, err := w.bw.Write(enc); err != nil {
		return fmt.Errorf("recordfmt: write json_lines record: %w", err)
	}
	if err := w.bw.WriteByte('\n'); err != nil {
		return err
	}
	w.recordsWritten++
	return nil
}

func (w *jsonLinesWriter) Flush() error { return w.bw.Flush() }

func (w *jsonLinesWriter) Close() error {
	if err := w.bw.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

func (w *jsonLinesWriter) HeaderWritten() bool  { return w.headerWritten }
func (w *jsonLinesWriter) RecordsWritten() int  { return w.recordsWritten }

// binaryRecordSize is the fixed wire size of one binary record: an 8-byte
// timestamp, 4-byte variable id, 8-byte variable address, 8-byte raw value,
// 8-byte converted value. The address is written as zero when
// IncludeVariableAddress is off, not omitted, to keep records
// fixed-width; binary records carry no variable name.
const binaryRecordSize = 8 + 4 + 8 + 8 + 8

type binaryWriter struct {
	path           string
	opts           Options
	file           *os.File
	bw             *bufio.Writer
	headerWritten  bool
	recordsWritten int
}

func newBinaryWriter(path string, opts Options) *binaryWriter {
	return &binaryWriter{path: path, opts: opts}
}

func (w *binaryWriter) CreateFile() error {
	f, err := openForWrite(w.path, w.opts.AppendMode)
	if err != nil {
		return err
	}
	w.file = f
	w.bw = bufio.NewWriter(f)
	return nil
}

// binaryMagic identifies the stream for a reader; its last byte is the
// format version.
var binaryMagic = [4]byte{'S', 'W', 'B', '1'}

func (w *binaryWriter) WriteHeader() error {
	if w.headerWritten {
		return fmt.Errorf("recordfmt: binary header already written")
	}
	if _, err := w.bw.Write(binaryMagic[:]); err != nil {
		return fmt.Errorf("recordfmt: write binary header: %w", err)
	}
	w.headerWritten = true
	return nil
}

func (w *binaryWriter) WriteRecord(r Record) error {
	buf := make([]byte, binaryRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], r.TimestampUs)
	binary.LittleEndian.PutUint32(buf[8:12], r.VariableID)
	addr := uint64(0)
	if w.opts.IncludeVariableAddress {
		addr = r.VariableAddress
	}
	binary.LittleEndian.PutUint64(buf[12:20], addr)
	binary.LittleEndian.PutUint64(buf[20:28], math.Float64bits(r.RawValue))
	binary.LittleEndian.PutUint64(buf[28:36], math.Float64bits(r.ConvertedValue))
	if _, err := w.bw.Write(buf); err != nil {
		return fmt.Errorf("recordfmt: write binary record: %w", err)
	}
	w.recordsWritten++
	return nil
}

func (w *binaryWriter) Flush() error { return w.bw.Flush() }

func (w *binaryWriter) Close() error {
	if err := w.bw.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

func (w *binaryWriter) HeaderWritten() bool  { return w.headerWritten }
func (w *binaryWriter) RecordsWritten() int  { return w.recordsWritten }

func openForWrite(path string, appendMode bool) (*os.File, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recordfmt: open %s: %w", path, err)
	}
	return f, nil
}
