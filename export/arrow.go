package export

import (
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/gomithril/textembed"
)

const (
	ColumnText      = "text"
	ColumnEmbedding = "embedding"
)

// Schema is text plus a fixed-size float32 list of length dim.
func Schema(dim int) *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: ColumnText, Type: arrow.BinaryTypes.String},
		{Name: ColumnEmbedding, Type: arrow.FixedSizeListOf(int32(dim), arrow.PrimitiveTypes.Float32)},
	}, nil)
}

// NewRecord builds one Arrow record batch from records. The caller releases it.
func NewRecord(mem memory.Allocator, records []Record) (arrow.Record, error) {
	dim, err := Dim(records)
	if err != nil {
		return nil, err
	}

	b := array.NewRecordBuilder(mem, Schema(dim))
	defer b.Release()

	texts := b.Field(0).(*array.StringBuilder)
	lists := b.Field(1).(*array.FixedSizeListBuilder)
	values := lists.ValueBuilder().(*array.Float32Builder)

	texts.Reserve(len(records))
	lists.Reserve(len(records))
	values.Reserve(len(records) * dim)
	for _, r := range records {
		texts.Append(r.Text)
		lists.Append(true)
		values.AppendValues(r.Embedding, nil)
	}
	return b.NewRecord(), nil
}

// WriteArrowFile writes records as an Arrow IPC file.
func WriteArrowFile(path string, records []Record) error {
	mem := memory.NewGoAllocator()
	rec, err := NewRecord(mem, records)
	if err != nil {
		return err
	}
	defer rec.Release()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w, err := ipc.NewFileWriter(f, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	if err != nil {
		f.Close()
		return err
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		f.Close()
		return err
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadArrowFile reads every record batch of an Arrow IPC file written by
// WriteArrowFile.
func ReadArrowFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out []Record
	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.Record(i)
		if err != nil {
			return nil, err
		}
		rows, err := recordsFrom(rec)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		out = append(out, rows...)
	}
	return out, nil
}

func recordsFrom(rec arrow.Record) ([]Record, error) {
	if rec.NumCols() != 2 {
		return nil, fmt.Errorf("expected 2 columns, got %d", rec.NumCols())
	}
	texts, ok := rec.Column(0).(*array.String)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, want utf8", ColumnText, rec.Column(0).DataType())
	}
	lists, ok := rec.Column(1).(*array.FixedSizeList)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, want fixed_size_list", ColumnEmbedding, rec.Column(1).DataType())
	}
	values, ok := lists.ListValues().(*array.Float32)
	if !ok {
		return nil, fmt.Errorf("column %q values are %s, want float32", ColumnEmbedding, lists.ListValues().DataType())
	}
	raw := values.Float32Values()

	out := make([]Record, rec.NumRows())
	for i := range out {
		start, end := lists.ValueOffsets(i)
		e := make(textembed.Embedding, end-start)
		copy(e, raw[start:end])
		out[i] = Record{Text: texts.Value(i), Embedding: e}
	}
	return out, nil
}
