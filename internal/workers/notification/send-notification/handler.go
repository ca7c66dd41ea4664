package sendnotification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "enrollment-notifier/internal/common/errors"
	"enrollment-notifier/internal/common/logger"
	"enrollment-notifier/internal/notification/dispatch"
	"enrollment-notifier/internal/notification/recipient"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/xeipuuv/gojsonschema"
)

const TaskType = "send-notification"

// Sender performs a manual send of a stored notification.
type Sender interface {
	SendManual(ctx context.Context, id int64, req recipient.Request, opts dispatch.DeliverOptions) (*dispatch.Delivery, error)
}

type Handler struct {
	config       *Config
	sender       Sender
	errorHandler *apperrors.JobErrorHandler
	schema       *gojsonschema.Schema
	logger       logger.Logger
}

func NewHandler(config *Config, sender Sender, log logger.Logger) (*Handler, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(inputSchema))
	if err != nil {
		return nil, fmt.Errorf("compile input schema: %w", err)
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		sender:       sender,
		errorHandler: apperrors.NewJobErrorHandler(log),
		schema:       schema,
		logger:       log,
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

	h.completeJob(ctx, client, job, output)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input.NotificationID <= 0 {
		return nil, apperrors.NewInvalidInputError("notificationId must be positive")
	}

	delivery, err := h.sender.SendManual(ctx, input.NotificationID, input.request(), dispatch.DeliverOptions{
		CoverageStartDate: input.CoverageStartDate,
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("notification sent", map[string]interface{}{
		"notificationId": input.NotificationID,
		"mode":           string(delivery.Mode),
		"sent":           delivery.Sent,
		"failed":         delivery.Failed,
	})

	return &Output{
		Success: delivery.Success,
		Mode:    string(delivery.Mode),
		Sent:    delivery.Sent,
		Failed:  delivery.Failed,
		Results: delivery.Results,
		SentAt:  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (h *Handler) parseInput(variables string) (*Input, error) {
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

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
	}
}
