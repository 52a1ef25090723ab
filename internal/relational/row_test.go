package relational

import (
	"encoding/binary"
	"hash/crc32"
	"testing"
)

func testSchema() Schema {
	return Schema{
		PrimaryKey: "id",
		Columns: []Column{
			{Name: "id", Type: ColString},
			{Name: "age", Type: ColInt64},
			{Name: "score", Type: ColFloat64},
			{Name: "active", Type: ColBool},
			{Name: "blob", Type: ColBytes, Nullable: true},
		},
	}
}

func TestEncodeDecodeRowRoundTrip(t *testing.T) {
	schema := testSchema()
	row := Row{
		"id":     "u1",
		"age":    int64(30),
		"score":  3.5,
		"active": true,
		"blob":   []byte{1, 2, 3},
	}

	encoded, err := encodeRow(schema, row)
	if err != nil {
		t.Fatalf("encodeRow: %v", err)
	}
	decoded, err := decodeRow(encoded)
	if err != nil {
		t.Fatalf("decodeRow: %v", err)
	}

	if decoded["id"] != "u1" {
		t.Errorf("expected id u1, got %v", decoded["id"])
	}
	if decoded["age"] != int64(30) {
		t.Errorf("expected age 30, got %v", decoded["age"])
	}
	if decoded["score"] != 3.5 {
		t.Errorf("expected score 3.5, got %v", decoded["score"])
	}
	if decoded["active"] != true {
		t.Errorf("expected active true, got %v", decoded["active"])
	}
	if b, ok := decoded["blob"].([]byte); !ok || string(b) != "\x01\x02\x03" {
		t.Errorf("expected blob round trip, got %v", decoded["blob"])
	}
}

func TestEncodeDecodeRowNullColumn(t *testing.T) {
	schema := testSchema()
	row := Row{
		"id":     "u1",
		"age":    int64(30),
		"score":  1.0,
		"active": false,
		"blob":   nil,
	}

	encoded, err := encodeRow(schema, row)
	if err != nil {
		t.Fatalf("encodeRow: %v", err)
	}
	decoded, err := decodeRow(encoded)
	if err != nil {
		t.Fatalf("decodeRow: %v", err)
	}
	if v, present := decoded["blob"]; !present || v != nil {
		t.Errorf("expected blob to decode as explicit nil, got %v present=%v", v, present)
	}
}

func TestEncodeDecodeRowMissingColumnTreatedAsNull(t *testing.T) {
	schema := testSchema()
	row := Row{
		"id":     "u1",
		"age":    int64(30),
		"score":  1.0,
		"active": false,
	}

	encoded, err := encodeRow(schema, row)
	if err != nil {
		t.Fatalf("encodeRow: %v", err)
	}
	decoded, err := decodeRow(encoded)
	if err != nil {
		t.Fatalf("decodeRow: %v", err)
	}
	if v, present := decoded["blob"]; !present || v != nil {
		t.Errorf("expected omitted column to decode as nil, got %v present=%v", v, present)
	}
}

func TestEncodeRowRejectsWrongValueType(t *testing.T) {
	schema := testSchema()
	row := Row{
		"id":     "u1",
		"age":    "not-an-int",
		"score":  1.0,
		"active": false,
	}

	if _, err := encodeRow(schema, row); err == nil {
		t.Error("expected encodeRow to reject a string value for an int64 column")
	}
}

func TestDecodeRowRejectsCorruptedChecksum(t *testing.T) {
	schema := testSchema()
	row := Row{"id": "u1", "age": int64(1), "score": 1.0, "active": true}
	encoded, err := encodeRow(schema, row)
	if err != nil {
		t.Fatalf("encodeRow: %v", err)
	}

	corrupted := append([]byte(nil), encoded...)
	corrupted[0] ^= 0xFF

	if _, err := decodeRow(corrupted); err == nil {
		t.Error("expected decodeRow to reject a corrupted row")
	}
}

func TestDecodeRowRejectsBadMagicWithValidChecksum(t *testing.T) {
	body := []byte("XXXX\x00\x00")
	checksum := make([]byte, 4)
	binary.LittleEndian.PutUint32(checksum, crc32.ChecksumIEEE(body))
	data := append(append([]byte(nil), body...), checksum...)

	if _, err := decodeRow(data); err == nil {
		t.Error("expected decodeRow to reject a row whose magic bytes don't match, even with a valid checksum")
	}
}

func TestDecodeRowTooShortErrors(t *testing.T) {
	if _, err := decodeRow([]byte{1, 2}); err == nil {
		t.Error("expected decodeRow to reject data shorter than a checksum")
	}
}
