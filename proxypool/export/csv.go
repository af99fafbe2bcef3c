// Package export writes detection records as spreadsheet-friendly CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"socks5_inspector/proxypool/model"
)

// Excel 需要 BOM 才能正确识别 UTF-8 编码的中文表头。
const bom = "\ufeff"

const savedAtLayout = "2006-01-02 15:04:05"

var (
	baseHeader  = []string{"原始地址", "状态", "延迟", "出口 IP", "国家/地区", "运营商"}
	savedHeader = "保存时间"
)

type Options struct {
	// SuccessOnly drops failure records.
	SuccessOnly bool
	// WithSavedAt adds the 保存时间 column, used for persisted records.
	WithSavedAt bool
	// Location for 保存时间; nil means UTC.
	Location *time.Location
}

// WriteCSV writes records in input order.
func WriteCSV(w io.Writer, records []model.Record, opts Options) error {
	if _, err := io.WriteString(w, bom); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}

	cw := csv.NewWriter(w)
	header := baseHeader
	if opts.WithSavedAt {
		header = append(append([]string{}, baseHeader...), savedHeader)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	for _, r := range records {
		if opts.SuccessOnly && !r.Succeeded() {
			continue
		}
		row := []string{r.Raw, r.Status.Label(), r.Latency, r.ExitIP, r.Region, r.ISP}
		if opts.WithSavedAt {
			row = append(row, formatSavedAt(r.SavedAt, loc))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %q: %w", r.Raw, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatSavedAt(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return model.Absent
	}
	return t.In(loc).Format(savedAtLayout)
}
