package recordfmt

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCSVWriterLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	w, err := New(FormatCSV, path, Options{IncludeVariableName: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.CreateFile(); err != nil {
		t.Fatal(err)
	}
	if w.HeaderWritten() {
		t.Error("HeaderWritten should be false before WriteHeader")
	}
	if err := w.WriteHeader(); err != nil {
		t.Error(err)
	}
	if !w.HeaderWritten() {
		t.Error("HeaderWritten should be true after WriteHeader")
	}
	if err := w.WriteHeader(); err == nil {
		t.Error("expected error from writing header again")
	}

	if err := w.WriteRecord(Record{TimestampUs: 1000, VariableID: 1, VariableName: "temp", RawValue: 3, ConvertedValue: 21.5}); err != nil {
		t.Error(err)
	}
	if err := w.Flush(); err != nil {
		t.Error(err)
	}
	if w.RecordsWritten() != 1 {
		t.Errorf("want 1 record written, have %d", w.RecordsWritten())
	}
	if err := w.Close(); err != nil {
		t.Error(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "timestamp_us,variable_name,variable_id,raw_value,converted_value\n1000,temp,1,3,21.5\n"
	if string(data) != want {
		t.Errorf("want %q, have %q", want, string(data))
	}
}

func TestJSONLinesWriterHasNoHeaderRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	w, err := New(FormatJSONLines, path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.CreateFile(); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteHeader(); err != nil {
		t.Error(err)
	}
	if err := w.WriteRecord(Record{TimestampUs: 5, VariableID: 2, RawValue: 1, ConvertedValue: 2}); err != nil {
		t.Error(err)
	}
	if err := w.Close(); err != nil {
		t.Error(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("expected at least one line")
	}
	if data[0] != '{' {
		t.Errorf("expected json_lines to start directly with a record, got %q", string(data))
	}
}

func TestBinaryWriterFixedRecordSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	w, err := New(FormatBinary, path, Options{IncludeVariableAddress: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.CreateFile(); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteHeader(); err != nil {
		t.Error(err)
	}
	if err := w.Flush(); err != nil {
		t.Error(err)
	}
	headerOnly := fileSize(t, path)

	if err := w.WriteRecord(Record{TimestampUs: 1, VariableID: 1, VariableAddress: 0x2000_0000, RawValue: 1, ConvertedValue: 1}); err != nil {
		t.Error(err)
	}
	if err := w.Close(); err != nil {
		t.Error(err)
	}

	got := fileSize(t, path)
	if want := headerOnly + binaryRecordSize; got != want {
		t.Errorf("want size %d, have %d", want, got)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Format("exotic"), "x", Options{}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return info.Size()
}
