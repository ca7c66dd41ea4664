package runschedulednotifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "enrollment-notifier/internal/common/errors"
	"enrollment-notifier/internal/common/logger"
	"enrollment-notifier/internal/notification/orchestrator"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/xeipuuv/gojsonschema"
)

const TaskType = "run-scheduled-notifications"

type Runner interface {
	RunDueNotifications(ctx context.Context, now time.Time) *orchestrator.RunSummary
}

type Handler struct {
	config       *Config
	runner       Runner
	errorHandler *apperrors.JobErrorHandler
	schema       *gojsonschema.Schema
	logger       logger.Logger
	now          func() time.Time
}

func NewHandler(config *Config, runner Runner, log logger.Logger) (*Handler, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(inputSchema))
	if err != nil {
		return nil, fmt.Errorf("compile input schema: %w", err)
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		runner:       runner,
		errorHandler: apperrors.NewJobErrorHandler(log),
		schema:       schema,
		logger:       log,
		now:          time.Now,
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := h.parseInput(job.Variables)
	if err != nil {
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	cmd, err := client.NewCompleteJobCommand().JobKey(job.Key).VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{"error": err})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{"error": err})
	}
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	now := h.now()
	if input.Now != "" {
		t, err := time.Parse(time.RFC3339, input.Now)
		if err != nil {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("now: %v", err))
		}
		now = t
	}

	summary := h.runner.RunDueNotifications(ctx, now)
	if summary.Error != "" {
		return nil, apperrors.NewQueryExecutionFailedError("due notifications", errors.New(summary.Error))
	}

	return &Output{
		RunID:   summary.RunID,
		Due:     summary.Due,
		Sent:    summary.Sent,
		Skipped: summary.Skipped,
		Failed:  summary.Failed,
		Results: summary.Results,
	}, nil
}

func (h *Handler) parseInput(variables string) (*Input, error) {
	if strings.TrimSpace(variables) == "" {
		return &Input{}, nil
	}
	result, err := h.schema.Validate(gojsonschema.NewStringLoader(variables))
	if err != nil {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err))
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return nil, apperrors.NewInvalidInputError(strings.Join(errs, "; "))
	}

	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err))
	}
	return &input, nil
}
