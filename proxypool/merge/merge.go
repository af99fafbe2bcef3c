package merge

import (
	"time"

	"socks5_inspector/proxypool/model"
)

// Merge 将已持久化的记录与本批次新成功的记录合并：新记录排在旧记录之后，
// 然后按原始地址去重并保留最后一次出现的记录。结果按保留记录的出现位置排序。
// 对同一 fresh 重复调用是幂等的。
func Merge(persisted, fresh []model.Record) []model.Record {
	combined := make([]model.Record, 0, len(persisted)+len(fresh))
	combined = append(combined, persisted...)
	combined = append(combined, fresh...)

	last := make(map[string]int, len(combined))
	for i, r := range combined {
		last[r.Key()] = i
	}

	out := make([]model.Record, 0, len(last))
	for i, r := range combined {
		if last[r.Key()] == i {
			out = append(out, r)
		}
	}
	return out
}

// Successes keeps only Success records and stamps them with savedAt.
func Successes(records []model.Record, savedAt time.Time) []model.Record {
	out := make([]model.Record, 0, len(records))
	for _, r := range records {
		if !r.Succeeded() {
			continue
		}
		r.SavedAt = savedAt
		out = append(out, r)
	}
	return out
}
