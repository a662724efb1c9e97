// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package sync

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/roomsync/internal/analysis"
	"github.com/tomtom215/roomsync/internal/authz"
	"github.com/tomtom215/roomsync/internal/metrics"
	"github.com/tomtom215/roomsync/internal/models"
	"github.com/tomtom215/roomsync/internal/validation"
)

// Outcome is what happened to an outgoing chat message.
type Outcome string

const (
	// OutcomeChat is a message not addressed to the assistant.
	OutcomeChat Outcome = "chat"
	// OutcomeNoVideo is a question asked while no video is loaded.
	OutcomeNoVideo Outcome = "no_video"
	// OutcomeNotPermitted is a question from a user who may not ask.
	OutcomeNotPermitted Outcome = "not_permitted"
	// OutcomeDisabled is a question while no analysis service is configured.
	OutcomeDisabled Outcome = "disabled"
	// OutcomeBlocked is a question the analysis service refused.
	OutcomeBlocked  Outcome = "blocked"
	OutcomeFailed   Outcome = "failed"
	OutcomeAnswered Outcome = "dispatched"

	outcomeRejected  Outcome = "rejected"
	outcomeUnsavable Outcome = "unsaved"
)

// MessageWriter persists messages.
type MessageWriter interface {
	InsertMessage(ctx context.Context, m models.NewMessage) (*models.Message, error)
}

// dispatchSink is the room state the dispatcher updates.
type dispatchSink interface {
	deliver(m models.Message)
	startThinking()
	stopThinking()
	notify(n Notice)
}

// SendRequest is one chat message from the local user.
type SendRequest struct {
	Room     models.Room
	Role     authz.Role
	AuthorID uuid.UUID
	Text     string
}

// SendResult describes what Send did.
type SendResult struct {
	Message        *models.Message
	Classification Classification
	Outcome        Outcome
	// Timestamp is the resolved position sent with a question; nil for a
	// whole-video question or when nothing was dispatched.
	Timestamp *int
	Response  *analysis.Response
}

// Dispatcher persists outgoing chat and forwards questions to the analysis
// service. The user's message is always saved first; the question is only
// dispatched when a video is loaded and the sender may ask. A failed or
// blocked dispatch is reported once and never retried.
type Dispatcher struct {
	messages   MessageWriter
	analyzer   analysis.Analyzer
	authz      authz.Authorizer
	classifier *Classifier
	playback   *PlaybackSynchronizer
	sink       dispatchSink
	newKey     func() string
	log        zerolog.Logger
}

// NewDispatcher creates a dispatcher. analyzer may be nil, in which case
// questions are saved as plain chat.
func NewDispatcher(messages MessageWriter, analyzer analysis.Analyzer, authorizer authz.Authorizer, classifier *Classifier, playback *PlaybackSynchronizer, sink dispatchSink, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		messages:   messages,
		analyzer:   analyzer,
		authz:      authorizer,
		classifier: classifier,
		playback:   playback,
		sink:       sink,
		newKey:     uuid.NewString,
		log:        log,
	}
}

// Send persists req.Text and dispatches it if it is a permitted question.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	text := strings.TrimSpace(req.Text)
	draft := models.NewMessage{
		RoomID:   req.Room.ID,
		AuthorID: req.AuthorID,
		Body:     text,
		Kind:     models.KindText,
	}
	if verr := validation.ValidateStruct(draft); verr != nil {
		err := newError(ErrValidation, "send", verr)
		d.sink.notify(Notice{Kind: NoticeValidation, Text: "Messages must be between 1 and 4000 characters.", Err: err, At: time.Now()})
		return &SendResult{Outcome: outcomeRejected}, err
	}

	result := &SendResult{Classification: d.classifier.Classify(text, req.Room.HasVideo())}

	saved, err := d.messages.InsertMessage(ctx, draft)
	if err != nil {
		serr := newError(ErrPersistence, "send", err)
		d.sink.notify(Notice{Kind: NoticePersistence, Text: "Your message could not be sent.", Err: serr, At: time.Now()})
		result.Outcome = outcomeUnsavable
		return result, serr
	}
	result.Message = saved
	d.sink.deliver(*saved)

	if !result.Classification.Directed {
		result.Outcome = OutcomeChat
		return result, nil
	}
	if !req.Room.HasVideo() {
		return d.finish(result, OutcomeNoVideo), nil
	}
	if !d.mayAsk(req.Role) {
		return d.finish(result, OutcomeNotPermitted), nil
	}
	if d.analyzer == nil {
		return d.finish(result, OutcomeDisabled), nil
	}

	return d.dispatch(ctx, req, result)
}

func (d *Dispatcher) mayAsk(role authz.Role) bool {
	return permitted(d.authz, role, authz.ActionAsk, d.log)
}

func (d *Dispatcher) dispatch(ctx context.Context, req SendRequest, result *SendResult) (*SendResult, error) {
	question := result.Classification.Question
	result.Timestamp = d.playback.ResolveTimestamp(question)

	areq := analysis.Request{
		RoomID:         req.Room.ID,
		RequesterID:    req.AuthorID,
		Question:       question,
		VideoURL:       req.Room.Video(),
		Timestamp:      result.Timestamp,
		IdempotencyKey: d.newKey(),
	}

	ev := d.log.Info().Str("idempotency_key", areq.IdempotencyKey).Str("reason", result.Classification.Reason)
	if areq.Timestamp != nil {
		ev = ev.Str("timestamp", analysis.FormatTimestamp(*areq.Timestamp))
	} else {
		ev = ev.Bool("whole_video", true)
	}
	ev.Msg("Dispatching question")

	d.sink.startThinking()
	resp, err := d.analyzer.Analyze(ctx, areq)
	if err != nil {
		d.sink.stopThinking()
		serr := newError(ErrDispatch, "analyze", err)
		d.log.Warn().Err(err).Msg("Question dispatch failed")
		d.sink.notify(Notice{Kind: NoticeDispatch, Text: "The assistant couldn't answer right now. You can resend your question.", Err: serr, At: time.Now()})
		return d.finish(result, OutcomeFailed), serr
	}
	result.Response = resp

	if resp.Blocked {
		d.sink.stopThinking()
		text := "The assistant declined to answer."
		if resp.Reason != "" {
			text = "The assistant declined to answer: " + resp.Reason
		}
		d.sink.notify(Notice{Kind: NoticeBlocked, Text: text, At: time.Now()})
		return d.finish(result, OutcomeBlocked), nil
	}

	// The answer normally arrives as a room event; an inline copy is applied
	// now and the event is later dropped by its idempotency key.
	if resp.Message != nil {
		d.sink.deliver(*resp.Message)
	}
	return d.finish(result, OutcomeAnswered), nil
}

func (d *Dispatcher) finish(result *SendResult, outcome Outcome) *SendResult {
	result.Outcome = outcome
	metrics.RecordDispatch(string(outcome))
	return result
}
