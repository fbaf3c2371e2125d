package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	xerrors "github.com/jainkunal/giza-agents/internal/errors"
	"github.com/jainkunal/giza-agents/internal/fixedpoint"
	"github.com/jainkunal/giza-agents/internal/model/onnxbridge"
	"github.com/jainkunal/giza-agents/internal/platform"
)

// Model 管理模型的生命周期与推理入口，既支持本地 ONNX 会话，
// 也支持通过平台部署的可验证推理端点。
type Model struct {
	session    *onnxbridge.Session
	client     *platform.Client
	httpClient *http.Client

	modelID   uint64
	versionID uint64
	name      string
	version   *platform.Version
	endpoint  *platform.Endpoint
	uri       string
}

// Options 描述构建模型的方式，本地路径与平台 ID 二选一。
type Options struct {
	ModelPath  string
	ID         uint64
	Version    uint64
	OutputPath string

	PythonExec string
	ScriptPath string
	WorkingDir string

	HTTPClient *http.Client
}

// New 根据配置构建模型。本地模式需要 ModelPath，远程模式需要
// ID 与 Version 以及平台客户端，两者互斥。
func New(ctx context.Context, client *platform.Client, opts Options) (*Model, error) {
	hasPath := opts.ModelPath != ""
	hasRemote := opts.ID != 0 || opts.Version != 0

	if !hasPath && !hasRemote {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "必须提供 model_path 或者 id 与 version")
	}
	if hasPath && hasRemote {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "model_path 与 id/version 只能二选一")
	}
	if hasRemote && (opts.ID == 0 || opts.Version == 0) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "远程模式必须同时提供 id 和 version")
	}

	m := &Model{httpClient: opts.HTTPClient}
	if m.httpClient == nil {
		m.httpClient = &http.Client{Timeout: 120 * time.Second}
	}

	if hasPath {
		session, err := onnxbridge.NewSession(opts.PythonExec, opts.ScriptPath, opts.WorkingDir, opts.ModelPath)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化本地推理会话失败")
		}
		m.session = session
		return m, nil
	}

	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "远程模式需要平台客户端")
	}
	m.client = client
	m.modelID = opts.ID
	m.versionID = opts.Version

	meta, err := client.GetModel(ctx, opts.ID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePlatformFailure, err, "获取模型信息失败")
	}
	m.name = meta.Name

	version, err := client.GetVersion(ctx, opts.ID, opts.Version)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePlatformFailure, err, "获取模型版本失败")
	}
	if !version.Framework.Valid() {
		return nil, xerrors.New(xerrors.CodePlatformFailure, fmt.Sprintf("模型版本使用了不支持的框架: %s", version.Framework))
	}
	m.version = version

	endpoint, err := client.GetEndpoint(ctx, opts.ID, opts.Version)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePlatformFailure, err, "获取模型部署端点失败")
	}
	m.endpoint = endpoint
	m.uri = predictURI(endpoint.URI, version.Framework)

	if opts.OutputPath != "" {
		if err := m.Download(ctx, opts.OutputPath, opts); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// predictURI 依据框架拼接推理地址，Cairo 与 EZKL 的路径不同。
func predictURI(base string, framework platform.Framework) string {
	base = strings.TrimRight(base, "/")
	if framework == platform.FrameworkCairo {
		return base + "/cairo_run"
	}
	return base + "/predict"
}

// Framework 返回远程模型的框架类型。
func (m *Model) Framework() platform.Framework {
	if m.version == nil {
		return ""
	}
	return m.version.Framework
}

// Name 返回平台登记的模型名称，本地模式下为空。
func (m *Model) Name() string { return m.name }

// ModelID 返回平台模型 ID。
func (m *Model) ModelID() uint64 { return m.modelID }

// VersionID 返回平台版本号。
func (m *Model) VersionID() uint64 { return m.versionID }

// EndpointID 返回部署端点 ID。
func (m *Model) EndpointID() uint64 {
	if m.endpoint == nil {
		return 0
	}
	return m.endpoint.ID
}

// Download 在版本转换完成后下载原始 ONNX 模型并打开本地会话。
func (m *Model) Download(ctx context.Context, outputPath string, opts Options) error {
	if m.version == nil || m.client == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "仅远程模式支持下载模型")
	}
	if m.version.Status != platform.VersionStatusCompleted {
		return xerrors.New(xerrors.CodePlatformFailure, fmt.Sprintf("模型版本尚未就绪: %s", m.version.Status))
	}

	raw, err := m.client.DownloadOriginal(ctx, m.modelID, m.versionID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePlatformFailure, err, "下载原始模型失败")
	}

	name := m.version.OriginalModelPath
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if name == "" {
		name = fmt.Sprintf("model-%d-v%d.onnx", m.modelID, m.versionID)
	}
	savePath := filepath.Join(outputPath, name)
	if err := os.MkdirAll(outputPath, 0o755); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建模型输出目录失败")
	}
	if err := os.WriteFile(savePath, raw, 0o644); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入模型文件失败")
	}

	session, err := onnxbridge.NewSession(opts.PythonExec, opts.ScriptPath, opts.WorkingDir, savePath)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "打开下载后的模型失败")
	}
	m.session = session
	return nil
}

// PredictRequest 描述一次推理请求。
type PredictRequest struct {
	Input      fixedpoint.Tensor
	Verifiable bool
	FPImpl     fixedpoint.Impl
	JobSize    platform.JobSize
}

// PredictResult 汇总推理输出。可验证模式下 RequestID 非空，
// 用于后续定位证明任务。
type PredictResult struct {
	Output    fixedpoint.Tensor
	RequestID string
}

// Predict 执行一次推理。非可验证模式走本地会话；可验证模式将
// 输入按框架序列化后提交到部署端点，并返回请求 ID。
func (m *Model) Predict(ctx context.Context, req PredictRequest) (*PredictResult, error) {
	if len(req.Input.Data) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "推理输入不能为空")
	}

	if !req.Verifiable {
		if m.session == nil {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "本地会话未初始化")
		}
		output, err := m.session.Run(ctx, req.Input)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInferenceFailure, err, "本地推理失败")
		}
		return &PredictResult{Output: output}, nil
	}

	if m.uri == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "模型尚未部署，无法执行可验证推理")
	}

	fpImpl := req.FPImpl
	if fpImpl == "" {
		fpImpl = fixedpoint.FP16x16
	}
	jobSize := req.JobSize
	if jobSize == "" {
		jobSize = platform.JobSizeM
	}

	payload, err := m.formatInputs(req.Input, fpImpl, jobSize)
	if err != nil {
		return nil, err
	}

	body, status, err := m.postJSON(ctx, m.uri, payload)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInferenceFailure, err, "请求推理端点失败")
	}
	if status >= http.StatusBadRequest {
		return nil, xerrors.New(xerrors.CodeInferenceFailure,
			fmt.Sprintf("推理端点返回错误状态 %d: %s", status, strings.TrimSpace(string(body))))
	}

	return m.parseResponse(body, fpImpl)
}

// formatInputs 依据框架构造请求体。
func (m *Model) formatInputs(input fixedpoint.Tensor, fpImpl fixedpoint.Impl, jobSize platform.JobSize) (map[string]any, error) {
	switch m.Framework() {
	case platform.FrameworkCairo:
		serialized, err := fixedpoint.Serialize(input, fpImpl)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化定点张量失败")
		}
		return map[string]any{"job_size": string(jobSize), "args": serialized}, nil
	case platform.FrameworkEZKL:
		return map[string]any{"input_data": [][]float64{input.Data}, "job_size": string(jobSize)}, nil
	default:
		return nil, xerrors.New(xerrors.CodePlatformFailure, fmt.Sprintf("不支持的框架: %s", m.Framework()))
	}
}

// parseResponse 依据框架解析推理响应。
func (m *Model) parseResponse(body []byte, fpImpl fixedpoint.Impl) (*PredictResult, error) {
	switch m.Framework() {
	case platform.FrameworkCairo:
		var decoded struct {
			Result    string `json:"result"`
			RequestID string `json:"request_id"`
		}
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInferenceFailure, err, "解析推理响应失败")
		}
		if decoded.RequestID == "" {
			return nil, xerrors.New(xerrors.CodeInferenceFailure, "推理响应缺少 request_id")
		}
		output, err := fixedpoint.Deserialize(decoded.Result, fpImpl)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInferenceFailure, err, "反序列化推理结果失败")
		}
		return &PredictResult{Output: output, RequestID: decoded.RequestID}, nil
	case platform.FrameworkEZKL:
		var decoded struct {
			Result    [][]float64 `json:"result"`
			RequestID string      `json:"request_id"`
		}
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInferenceFailure, err, "解析推理响应失败")
		}
		if decoded.RequestID == "" {
			return nil, xerrors.New(xerrors.CodeInferenceFailure, "推理响应缺少 request_id")
		}
		if len(decoded.Result) == 0 {
			return nil, xerrors.New(xerrors.CodeInferenceFailure, "推理响应缺少结果")
		}
		output, err := fixedpoint.NewTensor(nil, decoded.Result[0])
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInferenceFailure, err, "构建输出张量失败")
		}
		return &PredictResult{Output: output, RequestID: decoded.RequestID}, nil
	default:
		return nil, xerrors.New(xerrors.CodePlatformFailure, fmt.Sprintf("不支持的框架: %s", m.Framework()))
	}
}

func (m *Model) postJSON(ctx context.Context, uri string, payload map[string]any) ([]byte, int, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("序列化请求失败: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(encoded))
	if err != nil {
		return nil, 0, fmt.Errorf("构建请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("读取响应失败: %w", err)
	}
	return body, resp.StatusCode, nil
}
