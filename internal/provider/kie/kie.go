package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vnmchuo/gen-broker/internal/catalog"
	"github.com/vnmchuo/gen-broker/internal/provider"
)

const DefaultBaseURL = "https://api.kie.ai"

type KieProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type createTaskRequest struct {
	Model       string         `json:"model"`
	CallBackURL string         `json:"callBackUrl"`
	Input       map[string]any `json:"input"`
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type createTaskData struct {
	TaskID string `json:"taskId"`
}

type taskData struct {
	TaskID       string          `json:"taskId"`
	State        string          `json:"state"`
	Status       string          `json:"status"`
	ResultJSON   json.RawMessage `json:"resultJson"`
	FailMsg      string          `json:"failMsg"`
	ErrorMessage string          `json:"errorMessage"`
}

// New returns a client whose every call is bounded by timeout. A timeout
// surfaces as provider.ErrDispatchFailed like any other transport error.
func New(apiKey, baseURL string, timeout time.Duration) provider.Dispatcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &KieProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *KieProvider) Name() string {
	return "kie"
}

func (p *KieProvider) Dispatch(ctx context.Context, model *catalog.ModelDescriptor, params map[string]any, callbackURL string) (string, error) {
	ctx, span := otel.Tracer("gen-broker/provider").Start(ctx, "kie.createTask")
	defer span.End()
	span.SetAttributes(attribute.String("model", model.Endpoint))

	body, err := json.Marshal(createTaskRequest{
		Model:       model.Endpoint,
		CallBackURL: callbackURL,
		Input:       model.WithDefaults(params),
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", provider.ErrDispatchFailed, err)
	}

	env, err := p.do(ctx, http.MethodPost, "/api/v1/jobs/createTask", body)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if env.Code != http.StatusOK {
		err := &provider.StatusError{Code: env.Code, Msg: env.Msg}
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var data createTaskData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return "", fmt.Errorf("%w: decode data: %v", provider.ErrDispatchFailed, err)
		}
	}
	if data.TaskID == "" {
		err := fmt.Errorf("%w: response carried no task id", provider.ErrDispatchFailed)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(attribute.String("task_id", data.TaskID))
	return data.TaskID, nil
}

func (p *KieProvider) TaskInfo(ctx context.Context, taskID string) (*provider.Task, error) {
	ctx, span := otel.Tracer("gen-broker/provider").Start(ctx, "kie.getResult")
	defer span.End()
	span.SetAttributes(attribute.String("task_id", taskID))

	env, err := p.do(ctx, http.MethodGet, "/api/v1/jobs/get-result/"+url.PathEscape(taskID), nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	task := &provider.Task{ID: taskID}
	if env.Code != http.StatusOK || len(env.Data) == 0 || string(env.Data) == "null" {
		task.Message = env.Msg
		return task, nil
	}

	var data taskData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("kie: decode task: %w", err)
	}
	task.State = data.State
	if task.State == "" {
		task.State = data.Status
	}
	task.Result = data.ResultJSON
	task.FailMsg = data.FailMsg
	if task.FailMsg == "" {
		task.FailMsg = data.ErrorMessage
	}
	return task, nil
}

func (p *KieProvider) do(ctx context.Context, method, path string, body []byte) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrDispatchFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", provider.ErrDispatchFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", provider.ErrDispatchFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &provider.StatusError{Code: resp.StatusCode, Msg: strings.TrimSpace(string(raw))}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", provider.ErrDispatchFailed, err)
	}
	return &env, nil
}
