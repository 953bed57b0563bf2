package events

import (
	"context"
	"strings"

	"github.com/tg-warden/warden/internal/database"
)

// TrainingStore is the slice of the store the training handler needs.
type TrainingStore interface {
	SaveTrainingLabel(ctx context.Context, label *database.TrainingLabel) error
	SaveImageSample(ctx context.Context, sample *database.ImageSample) error
}

// RetrainTrigger kicks the ML retraining job. Implementations debounce; not
// every captured sample causes a retrain.
type RetrainTrigger interface {
	TriggerRetrain(ctx context.Context)
}

// TrainingHandler captures labeled samples from moderation events. A text
// label is only created when the message has text; an image sample only when
// the message carried a photo. The two captures are independent.
type TrainingHandler struct {
	store   TrainingStore
	trigger RetrainTrigger
}

// NewTrainingHandler creates the training side effect. trigger may be nil to
// disable retraining kicks.
func NewTrainingHandler(store TrainingStore, trigger RetrainTrigger) *TrainingHandler {
	return &TrainingHandler{store: store, trigger: trigger}
}

func (h *TrainingHandler) Name() string { return "training" }

func (h *TrainingHandler) Handle(ctx context.Context, event Event) error {
	if event.TrainingLabel == "" {
		return nil
	}

	captured := false

	if strings.TrimSpace(event.MessageText) != "" {
		label := &database.TrainingLabel{
			Content:   event.MessageText,
			Label:     event.TrainingLabel,
			LabeledBy: event.Actor,
		}
		if err := h.store.SaveTrainingLabel(ctx, label); err != nil {
			return err
		}
		captured = true
	}

	if event.PhotoFileID != "" {
		sample := &database.ImageSample{
			PhotoFileID: event.PhotoFileID,
			Label:       event.TrainingLabel,
			LabeledBy:   event.Actor,
		}
		if err := h.store.SaveImageSample(ctx, sample); err != nil {
			return err
		}
		captured = true
	}

	if captured && h.trigger != nil {
		h.trigger.TriggerRetrain(ctx)
	}
	return nil
}
