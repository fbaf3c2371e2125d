package agent

import (
	"context"
	"sync"
	"time"

	xerrors "github.com/jainkunal/giza-agents/internal/errors"
	"github.com/jainkunal/giza-agents/internal/fixedpoint"
	"github.com/jainkunal/giza-agents/internal/platform"
)

// ProofService 描述 Result 轮询证明与验证任务所需的平台能力。
type ProofService interface {
	ListJobs(ctx context.Context, endpointID uint64) ([]platform.Job, error)
	GetProof(ctx context.Context, endpointID uint64, requestID string) (*platform.Proof, error)
	CreateJob(ctx context.Context, create platform.JobCreate) (*platform.Job, error)
	GetJob(ctx context.Context, jobID uint64, kind platform.JobKind) (*platform.Job, error)
}

// Result 持有一次可验证推理的输出，并跟踪其证明的生成与验证进度。
// 输出值只有在验证完成后才可通过 Value 取出。
type Result struct {
	api ProofService

	endpointID uint64
	modelID    uint64
	versionID  uint64
	framework  platform.Framework
	requestID  string
	output     fixedpoint.Tensor

	verifyTimeout time.Duration
	pollInterval  time.Duration

	mu        sync.Mutex
	verified  bool
	verifyErr error
	proof     *platform.Proof
	proofJob  *platform.Job
	verifyJob *platform.Job
}

// newResult 在平台任务列表中定位当前请求对应的证明任务。请求刚刚
// 提交就应该能看到任务，找不到说明端点没有开启可验证模式。
func newResult(ctx context.Context, api ProofService, m modelInfo, requestID string, output fixedpoint.Tensor, verifyTimeout, pollInterval time.Duration) (*Result, error) {
	jobs, err := api.ListJobs(ctx, m.endpointID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePlatformFailure, err, "查询端点任务列表失败")
	}

	var proofJob *platform.Job
	for i := range jobs {
		if jobs[i].RequestID == requestID {
			proofJob = &jobs[i]
			break
		}
	}
	if proofJob == nil {
		return nil, xerrors.New(xerrors.CodeProofFailure, "未找到请求对应的证明任务: "+requestID)
	}

	return &Result{
		api:           api,
		endpointID:    m.endpointID,
		modelID:       m.modelID,
		versionID:     m.versionID,
		framework:     m.framework,
		requestID:     requestID,
		output:        output,
		verifyTimeout: verifyTimeout,
		pollInterval:  pollInterval,
		proofJob:      proofJob,
	}, nil
}

// RequestID 返回推理请求的标识。
func (r *Result) RequestID() string {
	return r.requestID
}

// Verified 报告证明是否已经验证通过。
func (r *Result) Verified() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.verified
}

// ProofID 返回已获取的证明标识，证明尚未生成时为空。
func (r *Result) ProofID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proof == nil {
		return ""
	}
	return r.proof.ID
}

// Value 返回推理输出。首次调用会阻塞直至证明验证通过；验证失败或
// 超时后，后续调用立即返回同一个错误。
func (r *Result) Value(ctx context.Context) (fixedpoint.Tensor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.verified {
		return r.output, nil
	}
	if r.verifyErr != nil {
		return fixedpoint.Tensor{}, r.verifyErr
	}

	if err := r.verify(ctx); err != nil {
		r.verifyErr = err
		return fixedpoint.Tensor{}, err
	}
	r.verified = true
	return r.output, nil
}

// verify 依次等待证明生成、获取证明、创建并等待验证任务。
// 证明与验证两个阶段各自享有完整的超时窗口。
func (r *Result) verify(ctx context.Context) error {
	// 等待证明任务完成。
	proofJob, err := r.waitJob(ctx, r.proofJob)
	if err != nil {
		return err
	}
	r.proofJob = proofJob
	if proofJob.Status == platform.JobStatusFailed {
		return xerrors.New(xerrors.CodeProofFailure, "证明生成任务失败: "+r.requestID)
	}

	// 获取生成的证明。
	proof, err := r.api.GetProof(ctx, r.endpointID, r.requestID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeProofFailure, err, "获取证明失败")
	}
	r.proof = proof

	// 创建验证任务。验证的计算量远小于证明，固定使用最小规格。
	verifyJob, err := r.api.CreateJob(ctx, platform.JobCreate{
		Kind:      platform.JobKindVerify,
		Size:      platform.JobSizeS,
		Framework: r.framework,
		ModelID:   r.modelID,
		VersionID: r.versionID,
		ProofID:   proof.ID,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeVerificationFailure, err, "创建验证任务失败")
	}

	// 等待验证任务完成。
	verifyJob, err = r.waitJob(ctx, verifyJob)
	if err != nil {
		return err
	}
	r.verifyJob = verifyJob
	if verifyJob.Status == platform.JobStatusFailed {
		return xerrors.New(xerrors.CodeVerificationFailure, "证明验证未通过: "+proof.ID)
	}
	return nil
}

// waitJob 轮询任务状态直至进入终态或超出本阶段的截止时间。
func (r *Result) waitJob(ctx context.Context, job *platform.Job) (*platform.Job, error) {
	if job.Status.Terminal() {
		return job, nil
	}

	deadline := time.Now().Add(r.verifyTimeout)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			return nil, xerrors.New(xerrors.CodeTimeout, "等待任务完成超时",
				xerrors.WithMetadata("request_id", r.requestID),
				xerrors.WithMetadata("kind", string(job.Kind)),
			)
		}

		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待任务完成被取消")
		case <-ticker.C:
		}

		refreshed, err := r.api.GetJob(ctx, job.ID, job.Kind)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodePlatformFailure, err, "刷新任务状态失败")
		}
		if refreshed.Status.Terminal() {
			return refreshed, nil
		}
	}
}
