package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"socks5_inspector/proxypool/model"
)

func testRecords() []model.Record {
	return []model.Record{
		{Raw: "1.2.3.4:1080", Status: model.StatusSuccess, Latency: "120ms", ExitIP: "1.2.3.4", Region: "日本 - 东京", ISP: "NTT, Inc", SavedAt: time.Date(2026, 10, 19, 1, 2, 3, 0, time.UTC)},
		{Raw: "5.6.7.8:1080", Status: model.StatusFailure, Latency: "-", ExitIP: "-", Region: "-", ISP: "-"},
	}
}

func readBack(t *testing.T, buf *bytes.Buffer) [][]string {
	t.Helper()
	data := buf.String()
	if !strings.HasPrefix(data, bom) {
		t.Fatalf("Expected output to start with a UTF-8 BOM, got %q", data[:min(len(data), 8)])
	}
	rows, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(data, bom))).ReadAll()
	if err != nil {
		t.Fatalf("Output is not valid CSV: %v", err)
	}
	return rows
}

func TestWriteCSV_AllRecords(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, testRecords(), Options{}); err != nil {
		t.Fatalf("WriteCSV() returned an error: %v", err)
	}
	rows := readBack(t, &buf)
	if len(rows) != 3 {
		t.Fatalf("Expected header + 2 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != "原始地址,状态,延迟,出口 IP,国家/地区,运营商" {
		t.Errorf("Unexpected header: %v", rows[0])
	}
	if rows[1][1] != model.SuccessLabel || rows[2][1] != model.FailureLabel {
		t.Errorf("Unexpected status labels: %q %q", rows[1][1], rows[2][1])
	}
	if rows[1][5] != "NTT, Inc" {
		t.Errorf("Expected quoted comma field to survive, got %q", rows[1][5])
	}
}

func TestWriteCSV_SuccessOnlyWithSavedAt(t *testing.T) {
	var buf bytes.Buffer
	opts := Options{SuccessOnly: true, WithSavedAt: true}
	if err := WriteCSV(&buf, testRecords(), opts); err != nil {
		t.Fatal(err)
	}
	rows := readBack(t, &buf)
	if len(rows) != 2 {
		t.Fatalf("Expected header + 1 row, got %d", len(rows))
	}
	if rows[0][6] != "保存时间" {
		t.Errorf("Expected saved-at header, got %v", rows[0])
	}
	if rows[1][6] != "2026-10-19 01:02:03" {
		t.Errorf("Unexpected saved-at cell %q", rows[1][6])
	}
}

func TestWriteCSV_ZeroSavedAtIsAbsent(t *testing.T) {
	var buf bytes.Buffer
	recs := testRecords()[1:]
	if err := WriteCSV(&buf, recs, Options{WithSavedAt: true}); err != nil {
		t.Fatal(err)
	}
	rows := readBack(t, &buf)
	if rows[1][6] != model.Absent {
		t.Errorf("Expected %q, got %q", model.Absent, rows[1][6])
	}
}
