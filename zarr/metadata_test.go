package zarr

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// https://zarr.readthedocs.io/en/stable/spec/v2.html#metadata
const specExample = `{
  "chunks": [
    1000,
    1000
  ],
	"compressor": {
			"id": "blosc",
			"cname": "lz4",
			"clevel": 5,
			"shuffle": 1
	},
	"dtype": "<f8",
	"fill_value": "NaN",
	"filters": [
			{"id": "delta", "dtype": "<f8", "astype": "<f4"}
	],
	"order": "C",
	"shape": [
			10000,
			10000
	],
	"zarr_format": 2
}`

func TestMetadataSerialization(t *testing.T) {
	m := &ArrayMeta{}
	err := json.Unmarshal([]byte(specExample), m)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]int{1000, 1000}, m.Chunks); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}
	if m.Dtype != DtypeFloat64 {
		t.Errorf("expected dtype <f8, got %s", m.Dtype)
	}
	if m.Compressor == nil || m.Compressor.ID != CodecBlosc || m.Compressor.Clevel != 5 {
		t.Errorf("unexpected compressor: %#v", m.Compressor)
	}
	if diff := cmp.Diff([]int{10, 10}, m.NumChunks()); diff != "" {
		t.Errorf("num chunks mismatch (-want +got):\n%s", diff)
	}
	if err := m.Validate(); err == nil {
		t.Error("expected filters to fail validation")
	}
}

func TestDtypeParsing(t *testing.T) {
	cases := []struct {
		in       string
		want     Dtype
		itemSize int
	}{
		{"<f8", DtypeFloat64, 8},
		{"|b1", DtypeBool, 1},
		{"<c8", DtypeComplex64, 8},
		{"<U12", UnicodeDtype(12), 48},
		{"&lt;i4", DtypeInt32, 4},
		{"<M8[ns]", Dtype{ByteOrder: BOLittleEndian, BasicType: BTDatetime, ByteSize: 8, Units: "[ns]"}, 8},
	}

	for _, c := range cases {
		got, err := ParseDtype(c.in)
		if err != nil {
			t.Fatalf("%s: %s", c.in, err)
		}
		if got != c.want {
			t.Errorf("%s: want %#v, got %#v", c.in, c.want, got)
		}
		if got.ItemSize() != c.itemSize {
			t.Errorf("%s: want item size %d, got %d", c.in, c.itemSize, got.ItemSize())
		}
	}

	for _, bad := range []string{"f8", "<x8", "<fz"} {
		if _, err := ParseDtype(bad); err == nil {
			t.Errorf("expected %q to fail parsing", bad)
		}
	}
}

func TestDtypeOf(t *testing.T) {
	dt, err := DtypeOf([]string{"a", "ünïcode"})
	if err != nil {
		t.Fatal(err)
	}
	if dt.String() != "<U7" {
		t.Errorf("expected <U7, got %s", dt)
	}
	if _, err := DtypeOf([]struct{}{}); err == nil {
		t.Error("expected error for unsupported Go type")
	}
}

func TestConsolidatedMetadata(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := CreateGroup(ctx, s, "", Attributes{"type": "processing_set"}); err != nil {
		t.Fatal(err)
	}
	if err := CreateGroup(ctx, s, "ms_0", nil); err != nil {
		t.Fatal(err)
	}
	a, err := Create(ctx, s, "ms_0/time", &ArrayMeta{Shape: []int{4}, Chunks: []int{2}, Dtype: DtypeFloat64}, ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetAttrs(ctx, Attributes{"_ARRAY_DIMENSIONS": []string{"time"}}); err != nil {
		t.Fatal(err)
	}

	keys := []string{".zgroup", ".zattrs", "ms_0/.zgroup", "ms_0/.zattrs", "ms_0/time/.zarray", "ms_0/time/.zattrs"}
	if _, err := Consolidate(ctx, s, "", keys); err != nil {
		t.Fatal(err)
	}

	cm, err := ReadConsolidated(ctx, s, "")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"", "ms_0"}, cm.Groups()); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"ms_0/time"}, cm.Arrays()); diff != "" {
		t.Errorf("arrays mismatch (-want +got):\n%s", diff)
	}
	if cm.Attributes("")["type"] != "processing_set" {
		t.Errorf("root attributes not consolidated: %v", cm.Attributes(""))
	}
	if am := cm.Array("ms_0/time"); am == nil || am.Shape[0] != 4 {
		t.Errorf("array metadata not consolidated: %#v", am)
	}
}

func TestPathNormalization(t *testing.T) {
	p, err := NewPath(`\foo//bar/`)
	if err != nil {
		t.Fatal(err)
	}
	if p.String() != "foo/bar" {
		t.Errorf("expected foo/bar, got %q", p.String())
	}

	joined := p.Join("baz/.zarray")
	if joined.String() != "foo/bar/baz/.zarray" {
		t.Errorf("unexpected join: %q", joined.String())
	}
	if p.String() != "foo/bar" {
		t.Errorf("join must not modify the receiver, got %q", p.String())
	}
	if joined.Base() != ".zarray" || joined.Parent().String() != "foo/bar/baz" {
		t.Errorf("unexpected base/parent: %q %q", joined.Base(), joined.Parent())
	}

	if _, err := NewPath("foo/../bar"); err == nil {
		t.Error("expected relative elements to be rejected")
	}
}

func TestIntegerFillValuePrecision(t *testing.T) {
	const big = int64(1<<53 + 1)
	decode := func(dtype, fill string) interface{} {
		t.Helper()
		m := &ArrayMeta{}
		in := `{"zarr_format": 2, "shape": [2], "chunks": [2], "dtype": "` + dtype + `", "compressor": null, "fill_value": ` + fill + `, "order": "C", "filters": null}`
		if err := json.Unmarshal([]byte(in), m); err != nil {
			t.Fatal(err)
		}
		v, err := fillScalar(m.Dtype, m.FillValue)
		if err != nil {
			t.Fatalf("%s %s: %s", dtype, fill, err)
		}
		return v
	}

	if got := decode("<i8", "9007199254740993"); got != big {
		t.Errorf("int64 fill: want %d, got %v", big, got)
	}
	if got := decode("<u8", "18446744073709551615"); got != uint64(math.MaxUint64) {
		t.Errorf("uint64 fill: want max uint64, got %v", got)
	}
	if got := decode("<i4", "-7"); got != int32(-7) {
		t.Errorf("int32 fill: want -7, got %v", got)
	}
	if got := decode("<f8", "0.5"); got != 0.5 {
		t.Errorf("float64 fill: want 0.5, got %v", got)
	}
	if got := decode("<i8", "null"); got != int64(0) {
		t.Errorf("null fill: want 0, got %v", got)
	}

	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := Create(ctx, s, "big", &ArrayMeta{Shape: []int{3}, Chunks: []int{2}, Dtype: DtypeInt64, FillValue: big}, ModeWrite); err != nil {
		t.Fatal(err)
	}
	a, err := Open(ctx, s, "big", ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	got, err := a.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int64{big, big, big}, got); diff != "" {
		t.Errorf("fill mismatch (-want +got):\n%s", diff)
	}
}
