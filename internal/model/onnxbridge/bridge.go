package onnxbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jainkunal/giza-agents/internal/fixedpoint"
)

// Session 通过调用 Python onnxruntime 脚本执行本地模型推理。
type Session struct {
	pythonExec string
	scriptPath string
	workingDir string
	modelPath  string
}

// NewSession 创建本地推理会话。
func NewSession(pythonExec, scriptPath, workingDir, modelPath string) (*Session, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("未指定 ONNX 模型路径")
	}
	if scriptPath == "" {
		return nil, fmt.Errorf("未指定推理脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Session{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
		modelPath:  modelPath,
	}, nil
}

// ModelPath 返回会话绑定的模型文件。
func (s *Session) ModelPath() string {
	return s.modelPath
}

// Run 调用外部脚本执行一次推理，并解析输出张量。
func (s *Session) Run(ctx context.Context, input fixedpoint.Tensor) (fixedpoint.Tensor, error) {
	payload := map[string]any{
		"model_path": s.modelPath,
		"shape":      input.Shape,
		"data":       input.Data,
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fixedpoint.Tensor{}, fmt.Errorf("序列化推理请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, s.pythonExec, s.scriptPath)
	if s.workingDir != "" {
		command.Dir = s.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return fixedpoint.Tensor{}, fmt.Errorf("执行推理脚本失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	var resp struct {
		Shape []int     `json:"shape"`
		Data  []float64 `json:"data"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return fixedpoint.Tensor{}, fmt.Errorf("解析推理输出失败: %w", err)
	}
	return fixedpoint.NewTensor(resp.Shape, resp.Data)
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
