package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"socks5_inspector/internal/shared/logger"
	manager "socks5_inspector/proxypool"
	"socks5_inspector/proxypool/export"
	"socks5_inspector/proxypool/model"
	"socks5_inspector/proxypool/parser"
)

const maxCheckBody = 4 << 20

// BatchController defines what the web handler needs from the batch manager.
// This decouples the web package from the concrete manager.
type BatchController interface {
	Check(ctx context.Context, lines []string) (*manager.Report, error)
	Records(ctx context.Context) ([]model.Record, error)
	LastReport() *manager.Report
	Status() manager.Status
}

// CheckRequest 是 POST /api/check 的 JSON 请求体。
type CheckRequest struct {
	Proxies []string `json:"proxies"`
}

type Handler struct {
	controller BatchController
	hub        *Hub
}

func NewHandler(controller BatchController, hub *Hub) *Handler {
	return &Handler{
		controller: controller,
		hub:        hub,
	}
}

// HandleCheck 处理 POST /api/check 请求，同步执行一个批次并返回报告。
// 请求体可以是每行一个地址的纯文本，或 {"proxies": [...]}。
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	lines, err := readCheckBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// A batch is not cancelled mid-flight when the client goes away.
	report, err := h.controller.Check(context.WithoutCancel(r.Context()), lines)
	if errors.Is(err, manager.ErrEmptyInput) {
		http.Error(w, "No proxy endpoints in request body", http.StatusBadRequest)
		return
	}
	if err != nil {
		l := logger.WithComponent("Web")
		l.Error().Err(err).Msg("Batch check failed.")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func readCheckBody(r *http.Request) ([]string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCheckBody+1))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if len(body) > maxCheckBody {
		return nil, errors.New("request body too large")
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req CheckRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		return req.Proxies, nil
	}
	return parser.ParseLines(string(body)), nil
}

// HandleRecords 处理 GET /api/records 请求，返回存储中的全部记录。
func (h *Handler) HandleRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	records, err := h.controller.Records(r.Context())
	if err != nil {
		l := logger.WithComponent("Web")
		l.Error().Err(err).Msg("Failed to read record store.")
		http.Error(w, "Failed to read record store", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// HandleExport 处理 GET /api/export.csv 请求。
// scope=last（默认）导出最近一个批次，scope=store 导出持久化记录；
// success_only=true 只保留成功记录。
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	successOnly, _ := strconv.ParseBool(q.Get("success_only"))
	opts := export.Options{SuccessOnly: successOnly}

	var records []model.Record
	filename := "socks5_results.csv"
	switch q.Get("scope") {
	case "", "last":
		report := h.controller.LastReport()
		if report == nil {
			http.Error(w, "No batch has been run yet", http.StatusNotFound)
			return
		}
		records = report.Records
	case "store":
		stored, err := h.controller.Records(r.Context())
		if err != nil {
			l := logger.WithComponent("Web")
			l.Error().Err(err).Msg("Failed to read record store for export.")
			http.Error(w, "Failed to read record store", http.StatusInternalServerError)
			return
		}
		records = stored
		opts.WithSavedAt = true
		filename = "valid_proxies.csv"
	default:
		http.Error(w, "scope must be last or store", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	if err := export.WriteCSV(w, records, opts); err != nil {
		l := logger.WithComponent("Web")
		l.Warn().Err(err).Msg("Failed to stream CSV export.")
	}
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	manager.Status
	WSClients int `json:"ws_clients"`
}

// HandleStatus 处理 GET /api/status 请求
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := StatusResponse{Status: h.controller.Status()}
	if h.hub != nil {
		resp.WSClients = h.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		l := logger.WithComponent("Web")
		l.Warn().Err(err).Msg("Failed to encode JSON response.")
	}
}
