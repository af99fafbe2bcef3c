package storage

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"socks5_inspector/internal/shared/logger"
	"socks5_inspector/proxypool/model"
)

const (
	delimiter = "|"
	numFields = 7 // Raw|Status|Latency|ExitIP|Region|ISP|SavedAt
)

// FileStorage 实现了 RecordStore 接口，使用纯文本文件进行持久化，每行一条记录。
type FileStorage struct {
	filePath string
	mu       sync.RWMutex
}

// NewFileStorage 创建一个新的 FileStorage 实例。
func NewFileStorage(filePath string) *FileStorage {
	return &FileStorage{
		filePath: filePath,
	}
}

// Read 从纯文本文件加载全部记录。文件不存在时返回空集合。
func (fs *FileStorage) Read(ctx context.Context) ([]model.Record, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	l := logger.WithComponent("ProxyPool/Storage")

	file, err := os.Open(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			l.Info().Str("path", fs.filePath).Msg("Record file not found, starting with an empty store.")
			return []model.Record{}, nil
		}
		return nil, err
	}
	defer file.Close()

	records := make([]model.Record, 0)
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		fields := strings.Split(line, delimiter)
		if len(fields) != numFields {
			l.Warn().Int("line", lineNum).Int("expected", numFields).Int("got", len(fields)).Msg("Skipping malformed line in record file.")
			continue
		}

		r, err := parseRecord(fields)
		if err != nil {
			l.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse record from line, skipping.")
			continue
		}
		records = append(records, r)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	l.Debug().Int("count", len(records)).Msg("Loaded records from file.")
	return records, nil
}

// Write 用 records 整体替换文件内容（先写临时文件再 rename）。
func (fs *FileStorage) Write(ctx context.Context, records []model.Record) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	l := logger.WithComponent("ProxyPool/Storage")

	var sb strings.Builder
	for _, r := range records {
		sb.WriteString(formatRecord(r))
		sb.WriteString("\n")
	}

	dir := filepath.Dir(fs.filePath)
	tmp, err := os.CreateTemp(dir, filepath.Base(fs.filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp record file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(sb.String()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write record file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, fs.filePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace record file: %w", err)
	}

	l.Info().Int("count", len(records)).Str("path", fs.filePath).Msg("Saved records to file.")
	return nil
}

func (fs *FileStorage) Close() error {
	return nil
}

// 字段内的 %、分隔符和换行按百分号编码保存，读取时还原，Raw 作为去重键必须原样往返。
var (
	fieldEscaper   = strings.NewReplacer("%", "%25", delimiter, "%7C", "\n", "%0A", "\r", "%0D")
	fieldUnescaper = strings.NewReplacer("%25", "%", "%7C", delimiter, "%0A", "\n", "%0D", "\r")
)

// formatRecord 将 Record 格式化为一行文本。
func formatRecord(r model.Record) string {
	var savedAt int64
	if !r.SavedAt.IsZero() {
		savedAt = r.SavedAt.Unix()
	}
	return strings.Join([]string{
		escapeField(r.Raw),
		r.Status.String(),
		escapeField(r.Latency),
		escapeField(r.ExitIP),
		escapeField(r.Region),
		escapeField(r.ISP),
		strconv.FormatInt(savedAt, 10),
	}, delimiter)
}

func escapeField(s string) string {
	return fieldEscaper.Replace(s)
}

func unescapeField(s string) string {
	return fieldUnescaper.Replace(s)
}

// parseRecord 从字符串切片解析出一条 Record。
func parseRecord(fields []string) (model.Record, error) {
	status, err := model.ParseStatus(fields[1])
	if err != nil {
		return model.Record{}, err
	}

	savedAtUnix, err := strconv.ParseInt(fields[6], 10, 64)
	if err != nil {
		return model.Record{}, fmt.Errorf("invalid saved_at: %w", err)
	}

	r := model.Record{
		Raw:     unescapeField(fields[0]),
		Status:  status,
		Latency: unescapeField(fields[2]),
		ExitIP:  unescapeField(fields[3]),
		Region:  unescapeField(fields[4]),
		ISP:     unescapeField(fields[5]),
	}
	if savedAtUnix > 0 {
		r.SavedAt = time.Unix(savedAtUnix, 0).UTC()
	}
	return r, nil
}
