package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"sysmet/internal/dashboard"
	"sysmet/internal/version"
)

// Server - HTTP-интерфейс дашборда
type Server struct {
	httpServer *http.Server
	cache      *dashboard.Cache
	metrics    *dashboard.Metrics
	logger     *zap.Logger
	mux        *http.ServeMux
}

// New создает сервер. metrics может быть nil, тогда /metrics не публикуется.
func New(addr string, cache *dashboard.Cache, metrics *dashboard.Metrics, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		mux:     mux,
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/charts", s.handleCharts)
	s.mux.HandleFunc("GET /api/version", s.handleVersion)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// Handler возвращает обработчик всех маршрутов (для тестов)
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start слушает адрес и обслуживает запросы до Shutdown
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ln)
}

// Serve обслуживает запросы на готовом listener
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown корректно останавливает сервер
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

type pointResponse struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

type seriesResponse struct {
	Key    string          `json:"key"`
	Label  string          `json:"label"`
	Color  string          `json:"color"`
	Points []pointResponse `json:"points"`
}

type chartResponse struct {
	Name   string           `json:"name"`
	Unit   string           `json:"unit"`
	Max    float64          `json:"max"`
	Series []seriesResponse `json:"series"`
}

type chartsResponse struct {
	UpdatedAt time.Time       `json:"updated_at"`
	Version   string          `json:"version"`
	Snapshots int             `json:"snapshots"`
	Charts    []chartResponse `json:"charts"`
}

func toResponse(c dashboard.Charts) chartsResponse {
	resp := chartsResponse{
		UpdatedAt: c.UpdatedAt,
		Version:   c.Version,
		Snapshots: c.Snapshots,
		Charts:    make([]chartResponse, 0, len(c.Charts)),
	}
	for _, chart := range c.Charts {
		cr := chartResponse{
			Name:   chart.Name,
			Unit:   chart.Unit,
			Max:    chart.Max,
			Series: make([]seriesResponse, 0, len(chart.Series)),
		}
		for _, series := range chart.Series {
			sr := seriesResponse{
				Key:    string(series.Key),
				Label:  series.Label,
				Color:  series.Color,
				Points: make([]pointResponse, 0, len(series.Points)),
			}
			for _, p := range series.Points {
				sr.Points = append(sr.Points, pointResponse{Time: p.Time, Value: p.Value})
			}
			cr.Series = append(cr.Series, sr)
		}
		resp.Charts = append(resp.Charts, cr)
	}
	return resp
}

// handleCharts отдает последние построенные графики
func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) {
	charts, ok := s.cache.Get()
	if !ok {
		Unavailable(w, "database has not been loaded yet", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(charts))
}

// handleHealth сообщает, загружены ли данные
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	charts, ok := s.cache.Get()
	status := http.StatusOK
	body := map[string]interface{}{
		"status":  "ok",
		"service": "sysmet",
		"version": version.Version,
	}
	if !ok {
		status = http.StatusServiceUnavailable
		body["status"] = "loading"
	} else {
		body["updated_at"] = charts.UpdatedAt
		body["snapshots"] = charts.Snapshots
	}
	writeJSON(w, status, body)
}

// handleVersion возвращает информацию о сборке
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Map())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Sysmet-Version", version.Version)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
