package validator

import (
	"fmt"

	"socks5_inspector/proxypool/model"
)

// Classify 将一次检测结果映射为面向用户的记录。
func Classify(raw string, o model.Outcome) model.Record {
	if o.Status != model.StatusSuccess || o.Geo == nil {
		return FailureRecord(raw)
	}
	return model.Record{
		Raw:     raw,
		Status:  model.StatusSuccess,
		Latency: fmt.Sprintf("%dms", o.Elapsed.Milliseconds()),
		ExitIP:  o.Geo.Query,
		Region:  fmt.Sprintf("%s - %s", o.Geo.Country, o.Geo.City),
		ISP:     o.Geo.ISP,
	}
}

// FailureRecord returns a failure row with every metadata field absent.
func FailureRecord(raw string) model.Record {
	return model.Record{
		Raw:     raw,
		Status:  model.StatusFailure,
		Latency: model.Absent,
		ExitIP:  model.Absent,
		Region:  model.Absent,
		ISP:     model.Absent,
	}
}
