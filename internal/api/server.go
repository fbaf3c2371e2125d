package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jainkunal/giza-agents/internal/agent"
	"github.com/jainkunal/giza-agents/internal/auth"
	"github.com/jainkunal/giza-agents/internal/enzyme"
	xerrors "github.com/jainkunal/giza-agents/internal/errors"
	"github.com/jainkunal/giza-agents/internal/observability/metrics"
	"github.com/jainkunal/giza-agents/internal/task"
	"github.com/jainkunal/giza-agents/internal/web3"
)

// Server 负责暴露 REST 接口，供外部提交任务并查询执行状态。
type Server struct {
	addr       string
	tasks      *task.Service
	agent      *agent.Agent
	chain      web3.Client
	calculator *enzyme.FundCalculator
	auth       *auth.Service
}

// ServerOption 定义可选的服务配置。
type ServerOption func(*Server)

// WithAgent 注入 Agent，启用运行历史查询接口。
func WithAgent(ag *agent.Agent) ServerOption {
	return func(s *Server) {
		s.agent = ag
	}
}

// WithChain 注入链上客户端与基金估值合约，启用金库查询接口。
func WithChain(client web3.Client, calculator *enzyme.FundCalculator) ServerOption {
	return func(s *Server) {
		s.chain = client
		s.calculator = calculator
	}
}

// WithAuthService 启用 API Key 认证。
func WithAuthService(service *auth.Service) ServerOption {
	return func(s *Server) {
		s.auth = service
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, tasks *task.Service, opts ...ServerOption) *Server {
	s := &Server{addr: addr, tasks: tasks}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 组装所有路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/api/v1/tasks", s.protect(s.instrument("tasks", s.handleTasks), map[string][]string{
		http.MethodGet:  {"tasks:read"},
		http.MethodPost: {"tasks:write"},
	}))
	mux.Handle("/api/v1/tasks/stats", s.protect(s.instrument("task_stats", s.handleTaskStats), map[string][]string{
		"*": {"tasks:read"},
	}))
	mux.Handle("/api/v1/tasks/", s.protect(s.instrument("task_detail", s.handleTaskDetail), map[string][]string{
		"*": {"tasks:read"},
	}))
	mux.Handle("/api/v1/runs", s.protect(s.instrument("runs", s.handleRuns), map[string][]string{
		"*": {"runs:read"},
	}))
	mux.Handle("/api/v1/vaults/", s.protect(s.instrument("vaults", s.handleVaults), map[string][]string{
		"*": {"vaults:read"},
	}))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)

	return mux
}

// protect 按需包裹认证中间件。
func (s *Server) protect(handler http.Handler, scopes map[string][]string) http.Handler {
	if s.auth == nil || !s.auth.Enabled() {
		return handler
	}
	middleware := s.auth.Middleware(auth.MiddlewareConfig{RequiredScopes: scopes})
	return middleware(handler)
}

// instrument 记录请求耗时与状态码。
func (s *Server) instrument(name string, handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitTask(w, r)
	case http.MethodGet:
		s.handleListTasks(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleSubmitTask 接收推理任务并异步入队。携带 wait=true 时阻塞等待执行结果。
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req agent.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	created, err := s.tasks.Submit(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		waitCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
		completed, waitErr := s.tasks.WaitUntilCompleted(waitCtx, created.ID, 500*time.Millisecond)
		if waitErr != nil {
			writeError(w, waitErr)
			return
		}
		writeJSON(w, http.StatusOK, completed)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	results, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.tasks == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	stats, err := s.tasks.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{TaskStats: stats, SuccessRate: stats.SuccessRate()})
}

// statsResponse 在存储统计之外附带成功率，便于仪表盘直接展示。
type statsResponse struct {
	task.TaskStats
	SuccessRate float64 `json:"success_rate"`
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.tasks == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "任务 ID 缺失", http.StatusBadRequest)
		return
	}
	found, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.agent == nil {
		http.Error(w, "Agent 未初始化", http.StatusServiceUnavailable)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	records, err := s.agent.ListHistory(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// vaultResponse 汇总金库的基础信息。
type vaultResponse struct {
	Address              string `json:"address"`
	Comptroller          string `json:"comptroller"`
	Name                 string `json:"name"`
	Symbol               string `json:"symbol"`
	Decimals             uint8  `json:"decimals"`
	DenominationAsset    string `json:"denomination_asset"`
	DenominationSymbol   string `json:"denomination_symbol"`
	DenominationDecimals uint8  `json:"denomination_decimals"`
	TotalShares          string `json:"total_shares"`
}

// valuationResponse 描述一次估值结果。
type valuationResponse struct {
	Vault        string `json:"vault"`
	Kind         string `json:"kind"`
	Denomination string `json:"denomination"`
	Value        string `json:"value"`
}

// handleVaults 处理 /api/v1/vaults/{address} 与 /api/v1/vaults/{address}/value。
func (s *Server) handleVaults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.chain == nil {
		http.Error(w, "链上客户端未初始化", http.StatusServiceUnavailable)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/vaults/")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" || !common.IsHexAddress(parts[0]) {
		http.Error(w, "金库地址无效", http.StatusBadRequest)
		return
	}
	address := common.HexToAddress(parts[0])

	if len(parts) == 2 && parts[1] == "value" {
		s.handleVaultValue(w, r, address)
		return
	}
	if len(parts) == 2 && parts[1] != "" {
		http.Error(w, "未知的金库子资源", http.StatusNotFound)
		return
	}

	vault, err := enzyme.NewVault(r.Context(), s.chain, address)
	if err != nil {
		writeError(w, err)
		return
	}
	totalShares, err := vault.TotalShares(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vaultResponse{
		Address:              vault.Address().Hex(),
		Comptroller:          vault.ComptrollerAddress().Hex(),
		Name:                 vault.Name(),
		Symbol:               vault.Symbol(),
		Decimals:             vault.Decimals(),
		DenominationAsset:    vault.DenominationAsset().Hex(),
		DenominationSymbol:   vault.DenominationSymbol(),
		DenominationDecimals: vault.DenominationDecimals(),
		TotalShares:          totalShares.String(),
	})
}

func (s *Server) handleVaultValue(w http.ResponseWriter, r *http.Request, address common.Address) {
	if s.calculator == nil {
		http.Error(w, "估值合约未配置", http.StatusServiceUnavailable)
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = "nav"
	}
	var net bool
	switch kind {
	case "nav":
		net = true
	case "gav":
		net = false
	default:
		http.Error(w, "估值类型必须为 gav 或 nav", http.StatusBadRequest)
		return
	}
	valuation, err := s.calculator.AssetsValue(r.Context(), enzyme.AssetsValueQuery{
		Vault: address,
		Net:   net,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valuationResponse{
		Vault:        address.Hex(),
		Kind:         kind,
		Denomination: valuation.Denomination.Hex(),
		Value:        valuation.Value.String(),
	})
}

// listOptionsFromQuery 从查询参数解析过滤条件。
func listOptionsFromQuery(r *http.Request) ([]task.ListOption, error) {
	opts := make([]task.ListOption, 0, 4)
	query := r.URL.Query()

	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return nil, stdErrors.New("limit 参数无效")
		}
		opts = append(opts, task.WithLimit(parsed))
	}
	if raw := query.Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return nil, stdErrors.New("offset 参数无效")
		}
		opts = append(opts, task.WithOffset(parsed))
	}
	if raw := query.Get("status"); raw != "" {
		statuses := make([]task.Status, 0, 2)
		for _, item := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(item))
			if !task.IsValidStatus(status) {
				return nil, stdErrors.New("status 参数无效: " + item)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}
	if raw := query.Get("order"); raw == "asc" {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	return opts, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 将统一错误码映射为 HTTP 状态。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, task.CodeTaskValidation:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeTaskNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict, task.CodeTaskConflict:
		status = http.StatusConflict
	case xerrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	}
	http.Error(w, err.Error(), status)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
