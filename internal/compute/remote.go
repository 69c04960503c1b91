package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gojek/heimdall/v7"
	"github.com/gojek/heimdall/v7/httpclient"

	"github.com/eidos-exchange/eidos-ubi/internal/model"
	"github.com/eidos-exchange/eidos-ubi/pkg/errors"
)

// RemoteConfig 远程安全计算网关配置
type RemoteConfig struct {
	Endpoint     string
	APIKey       string
	Timeout      time.Duration
	RetryCount   int
	RetryBackoff time.Duration
}

// RemoteProvider 通过 HTTP JSON 调用远程安全计算网关
// POST {endpoint}/v1/compute/{type}, 请求体为任务输入
type RemoteProvider struct {
	endpoint string
	apiKey   string
	client   *httpclient.Client
}

type remoteResponse struct {
	Outputs json.RawMessage `json:"outputs"`
	Error   string          `json:"error,omitempty"`
}

// NewRemoteProvider 创建远程计算后端
func NewRemoteProvider(cfg RemoteConfig) *RemoteProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}

	retrier := heimdall.NewRetrier(heimdall.NewConstantBackoff(cfg.RetryBackoff, cfg.RetryBackoff/2))
	return &RemoteProvider{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		client: httpclient.NewClient(
			httpclient.WithHTTPTimeout(cfg.Timeout),
			httpclient.WithRetryCount(cfg.RetryCount),
			httpclient.WithRetrier(retrier),
		),
	}
}

// Name 后端名称
func (p *RemoteProvider) Name() string {
	return "remote"
}

// Execute 发送计算请求并解码对应类型的输出
func (p *RemoteProvider) Execute(ctx context.Context, input model.JobInput) (model.JobOutput, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal compute input: %w", err)
	}

	url := fmt.Sprintf("%s/v1/compute/%s", p.endpoint, input.JobType())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build compute request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, errors.Wrap(errors.ErrComputationFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read compute response: %w", err)
	}

	var out remoteResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(errors.ErrComputationFailed, fmt.Errorf("status %d: decode response: %w", resp.StatusCode, err))
	}
	if resp.StatusCode != http.StatusOK || out.Error != "" {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, errors.ErrComputationFailed.WithMessage(msg).WithDetail("status", fmt.Sprint(resp.StatusCode))
	}

	return decodeOutput(input.JobType(), out.Outputs)
}

func decodeOutput(t model.JobType, raw json.RawMessage) (model.JobOutput, error) {
	switch t {
	case model.JobTypeReputationScore:
		return decodeAs[model.ReputationScoreOutput](raw)
	case model.JobTypeUBICalculation:
		return decodeAs[model.UBICalculationOutput](raw)
	case model.JobTypeTandaVerification:
		return decodeAs[model.TandaVerificationOutput](raw)
	}
	return nil, errors.ErrUnsupportedJobType.WithDetail("type", string(t))
}

func decodeAs[O model.JobOutput](raw json.RawMessage) (model.JobOutput, error) {
	var v O
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrap(errors.ErrComputationFailed, fmt.Errorf("decode outputs: %w", err))
	}
	return v, nil
}
