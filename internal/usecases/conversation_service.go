package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"support_flow/internal/config"
	"support_flow/internal/entities"
	"support_flow/internal/interfaces"
	"support_flow/internal/repository"
)

const stateWriteAttempts = 3

type CustomerStore interface {
	GetByPhone(ctx context.Context, phone string) (*entities.Customer, error)
	Create(ctx context.Context, c *entities.Customer) error
	Touch(ctx context.Context, id int64, at time.Time) error
}

type ConversationStore interface {
	GetByID(ctx context.Context, id int64) (*entities.Conversation, error)
	GetActiveByCustomer(ctx context.Context, customerID int64) (*entities.Conversation, error)
	Create(ctx context.Context, c *entities.Conversation) error
	CompareAndSetState(ctx context.Context, id, expectedVersion int64, next entities.FlowState) (bool, error)
	Touch(ctx context.Context, id int64, at time.Time) error
	Close(ctx context.Context, id int64, at time.Time) error
}

type MessageStore interface {
	MessageHistory
	Create(ctx context.Context, m *entities.Message) error
}

type TicketCreator interface {
	CreateFromConversation(ctx context.Context, customer *entities.Customer, conv *entities.Conversation, analysis entities.Analysis) (*entities.Ticket, error)
}

type AppointmentScheduler interface {
	HandleAppointmentRequest(ctx context.Context, customer *entities.Customer, conv *entities.Conversation, analysis entities.Analysis) AppointmentResult
	CheckAvailability(ctx context.Context, dateText, timeText string) (Availability, error)
}

type ConversationLocker interface {
	Lock(ctx context.Context, conversationID int64) (func(), error)
}

type SenderLimiter interface {
	Allow(sender string) bool
}

// FlowTransitionEvent is published for every processed message.
type FlowTransitionEvent struct {
	Type           string             `json:"type"`
	ConversationID int64              `json:"conversation_id"`
	CustomerID     int64              `json:"customer_id"`
	From           entities.FlowState `json:"from"`
	To             entities.FlowState `json:"to"`
	Intent         string             `json:"intent"`
	Urgency        string             `json:"urgency"`
	At             time.Time          `json:"at"`
}

// Outcome summarizes how one inbound message was handled.
type Outcome struct {
	ConversationID  int64              `json:"conversation_id"`
	Decision        Decision           `json:"decision"`
	Reply           string             `json:"reply"`
	FollowUps       []string           `json:"follow_ups,omitempty"`
	Ticket          *entities.Ticket   `json:"ticket,omitempty"`
	Appointment     *AppointmentResult `json:"appointment,omitempty"`
	Availability    *Availability      `json:"availability,omitempty"`
	RateLimited     bool               `json:"rate_limited,omitempty"`
	ClassifierError bool               `json:"classifier_error,omitempty"`
}

// ConversationDeps groups the collaborators of ConversationService.
type ConversationDeps struct {
	Customers     CustomerStore
	Conversations ConversationStore
	Messages      MessageStore
	Classifier    interfaces.Classifier
	Engine        *FlowEngine
	Tickets       TicketCreator
	Appointments  AppointmentScheduler
	Messengers    map[string]interfaces.Messenger
	Locker        ConversationLocker
	Limiter       SenderLimiter
	Publisher     interfaces.EventPublisher
	Settings      *config.Settings
	Log           zerolog.Logger
}

// ConversationService runs the inbound message pipeline: persist, classify,
// transition, reply and trigger side effects.
type ConversationService struct {
	ConversationDeps
	now func() time.Time
}

func NewConversationService(deps ConversationDeps) *ConversationService {
	if deps.Engine == nil {
		deps.Engine = NewFlowEngine(nil)
	}
	if deps.Messengers == nil {
		deps.Messengers = map[string]interfaces.Messenger{}
	}
	return &ConversationService{ConversationDeps: deps, now: time.Now}
}

// ProcessMessage handles one inbound message end to end. On failure the
// customer receives an apology and the error is returned for logging.
func (s *ConversationService) ProcessMessage(ctx context.Context, in entities.InboundMessage) (*Outcome, error) {
	in.From = strings.TrimSpace(in.From)
	in.Content = strings.TrimSpace(in.Content)
	if in.From == "" || in.Content == "" {
		return nil, newError(ErrorValidation, "sender and content are required", nil)
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = s.now()
	}
	log := s.Log.With().Str("from", in.From).Str("platform", in.Platform).Logger()

	if s.Limiter != nil && !s.Limiter.Allow(in.From) {
		log.Warn().Msg("inbound message rate limited")
		return &Outcome{RateLimited: true}, nil
	}

	out, err := s.process(ctx, in, log)
	if err != nil {
		log.Error().Err(err).Msg("message processing failed")
		apology := s.Settings.Current().ApologyMessage
		if sendErr := s.send(ctx, in, apology); sendErr != nil {
			log.Error().Err(sendErr).Msg("apology delivery failed")
		}
		if out == nil {
			out = &Outcome{}
		}
		out.Reply = apology
		return out, err
	}
	return out, nil
}

func (s *ConversationService) process(ctx context.Context, in entities.InboundMessage, log zerolog.Logger) (*Outcome, error) {
	settings := s.Settings.Current()

	customer, err := s.customer(ctx, in.From, in.Timestamp)
	if err != nil {
		return nil, err
	}
	conv, err := s.conversation(ctx, customer, in.Timestamp)
	if err != nil {
		return nil, err
	}
	log = log.With().Int64("conversation_id", conv.ID).Logger()
	out := &Outcome{ConversationID: conv.ID}

	incoming := &entities.Message{
		ConversationID: conv.ID,
		ExternalID:     in.ExternalID,
		Direction:      entities.DirectionIncoming,
		Content:        in.Content,
		Timestamp:      in.Timestamp,
	}
	if err := s.Messages.Create(ctx, incoming); err != nil {
		return out, newError(ErrorPersistence, "could not store message", err)
	}

	history, err := s.Messages.Recent(ctx, conv.ID, settings.HistoryLimit)
	if err != nil {
		return out, newError(ErrorPersistence, "could not read history", err)
	}

	analysis, err := s.Classifier.Analyze(ctx, in.Content, history, customer)
	reply := analysis.ResponseText
	if err != nil {
		log.Warn().Err(err).Msg("classification failed; using fallback analysis")
		analysis = entities.FallbackAnalysis()
		reply = settings.ApologyMessage
		out.ClassifierError = true
	}
	analysis = analysis.Normalize()
	if strings.TrimSpace(reply) == "" {
		reply = settings.ApologyMessage
	}
	log = log.With().Str("intent", analysis.Intent).Logger()

	decision, err := s.transition(ctx, conv.ID, analysis, in.Content)
	if err != nil {
		return out, err
	}
	out.Decision = decision
	log.Info().Str("from_state", string(decision.From)).Str("to_state", string(decision.Next)).Msg("flow transition")

	if decision.RecommendTicket {
		log.Info().Msg("ticket recommended")
	}
	if decision.CheckAvailability && s.Appointments != nil {
		dateText, _ := analysis.Entities.String("date")
		timeText, _ := analysis.Entities.String("time")
		avail, err := s.Appointments.CheckAvailability(ctx, dateText, timeText)
		if err != nil {
			log.Info().Err(err).Msg("availability check rejected")
		} else {
			out.Availability = &avail
			log.Info().Str("date", avail.Date).Str("slot", string(avail.Slot)).Bool("available", avail.Available).Msg("availability checked")
		}
	}

	s.publish(ctx, FlowTransitionEvent{
		Type:           "flow.transition",
		ConversationID: conv.ID,
		CustomerID:     customer.ID,
		From:           decision.From,
		To:             decision.Next,
		Intent:         analysis.Intent,
		Urgency:        analysis.Urgency,
		At:             s.now().UTC(),
	}, log)

	out.Reply = reply
	if err := s.reply(ctx, in, conv.ID, reply, analysis, log); err != nil {
		return out, err
	}

	if action, ok := s.Engine.keywords.Action(analysis.Intent); ok {
		followUp := s.runAction(ctx, action, customer, conv, analysis, out, log)
		if followUp != "" {
			out.FollowUps = append(out.FollowUps, followUp)
			if err := s.reply(ctx, in, conv.ID, followUp, entities.Analysis{}, log); err != nil {
				return out, err
			}
		}
	}

	now := s.now()
	if err := s.Conversations.Touch(ctx, conv.ID, now); err != nil {
		log.Warn().Err(err).Msg("conversation touch failed")
	}
	if decision.Next == entities.StateClosing {
		if err := s.Conversations.Close(ctx, conv.ID, now); err != nil {
			return out, newError(ErrorPersistence, "could not close conversation", err)
		}
		log.Info().Msg("conversation closed")
	}
	return out, nil
}

// transition reads the committed state, evaluates the flow and writes the
// result with compare-and-swap, retrying when another writer got there first.
func (s *ConversationService) transition(ctx context.Context, conversationID int64, analysis entities.Analysis, text string) (Decision, error) {
	if s.Locker != nil {
		unlock, err := s.Locker.Lock(ctx, conversationID)
		if err != nil {
			return Decision{}, fmt.Errorf("lock conversation %d: %w", conversationID, err)
		}
		defer unlock()
	}

	for attempt := 0; attempt < stateWriteAttempts; attempt++ {
		current, err := s.Conversations.GetByID(ctx, conversationID)
		if err != nil {
			return Decision{}, newError(ErrorPersistence, "could not read conversation state", err)
		}
		decision := s.Engine.Evaluate(current.FlowState, analysis, text)
		if !decision.Changed() {
			return decision, nil
		}
		ok, err := s.Conversations.CompareAndSetState(ctx, conversationID, current.StateVersion, decision.Next)
		if err != nil {
			return Decision{}, newError(ErrorPersistence, "could not write conversation state", err)
		}
		if ok {
			return decision, nil
		}
		s.Log.Debug().Int64("conversation_id", conversationID).Int("attempt", attempt+1).Msg("state version moved; retrying")
	}
	return Decision{}, newError(ErrorConflict, "conversation state changed concurrently", nil)
}

func (s *ConversationService) runAction(ctx context.Context, action string, customer *entities.Customer, conv *entities.Conversation, analysis entities.Analysis, out *Outcome, log zerolog.Logger) string {
	switch action {
	case ActionCreateTicket:
		if s.Tickets == nil {
			return ""
		}
		ticket, err := s.Tickets.CreateFromConversation(ctx, customer, conv, analysis)
		if err != nil {
			log.Error().Err(err).Msg("ticket creation failed")
			return "No pudimos crear tu ticket en este momento. Por favor, inténtalo de nuevo más tarde."
		}
		out.Ticket = ticket
		return fmt.Sprintf("Hemos creado el ticket %s. Nuestro equipo lo revisará pronto.", ticket.TicketNumber)
	case ActionScheduleAppointment:
		if s.Appointments == nil {
			return ""
		}
		result := s.Appointments.HandleAppointmentRequest(ctx, customer, conv, analysis)
		out.Appointment = &result
		if !result.Success {
			log.Info().Str("code", string(result.Code)).Str("reason", result.Message).Msg("appointment not scheduled")
		}
		return result.Message
	}
	return ""
}

// reply delivers content and stores it as an outgoing message annotated
// with the analysis of the message it answers.
func (s *ConversationService) reply(ctx context.Context, in entities.InboundMessage, conversationID int64, content string, analysis entities.Analysis, log zerolog.Logger) error {
	if err := s.send(ctx, in, content); err != nil {
		log.Error().Err(err).Msg("reply delivery failed")
	}
	outgoing := &entities.Message{
		ConversationID: conversationID,
		ExternalID:     uuid.NewString(),
		Direction:      entities.DirectionOutgoing,
		Content:        content,
		Timestamp:      s.now(),
		Intent:         analysis.Intent,
		Sentiment:      analysis.Sentiment,
		Entities:       analysis.Entities,
	}
	if err := s.Messages.Create(ctx, outgoing); err != nil {
		return newError(ErrorPersistence, "could not store reply", err)
	}
	return nil
}

// send routes content to the messenger registered for the platform. Platforms
// without a messenger (web) receive the reply in the Outcome instead.
func (s *ConversationService) send(ctx context.Context, in entities.InboundMessage, content string) error {
	messenger, ok := s.Messengers[in.Platform]
	if !ok || messenger == nil {
		return nil
	}
	return messenger.SendMessage(ctx, in.From, content)
}

func (s *ConversationService) publish(ctx context.Context, event FlowTransitionEvent, log zerolog.Logger) {
	if s.Publisher == nil {
		return
	}
	key := fmt.Sprintf("conversation-%d", event.ConversationID)
	if err := s.Publisher.Publish(ctx, key, event); err != nil {
		log.Warn().Err(err).Msg("flow event publish failed")
	}
}

func (s *ConversationService) customer(ctx context.Context, phone string, at time.Time) (*entities.Customer, error) {
	c, err := s.Customers.GetByPhone(ctx, phone)
	if errors.Is(err, repository.ErrNotFound) {
		c = &entities.Customer{PhoneNumber: phone}
		err = s.Customers.Create(ctx, c)
		if errors.Is(err, repository.ErrDuplicate) {
			c, err = s.Customers.GetByPhone(ctx, phone)
		}
	}
	if err != nil {
		return nil, newError(ErrorPersistence, "could not load customer", err)
	}
	if err := s.Customers.Touch(ctx, c.ID, at); err != nil {
		s.Log.Warn().Err(err).Int64("customer_id", c.ID).Msg("customer touch failed")
	}
	c.LastInteraction = &at
	return c, nil
}

// conversation returns the customer's active conversation, closing it first
// if it has gone stale.
func (s *ConversationService) conversation(ctx context.Context, customer *entities.Customer, at time.Time) (*entities.Conversation, error) {
	conv, err := s.Conversations.GetActiveByCustomer(ctx, customer.ID)
	switch {
	case err == nil && !conv.IsStale(at):
		return conv, nil
	case err == nil:
		if err := s.Conversations.Close(ctx, conv.ID, at); err != nil {
			return nil, newError(ErrorPersistence, "could not close stale conversation", err)
		}
		s.Log.Info().Int64("conversation_id", conv.ID).Msg("stale conversation closed")
	case !errors.Is(err, repository.ErrNotFound):
		return nil, newError(ErrorPersistence, "could not load conversation", err)
	}

	conv = &entities.Conversation{
		SessionID:  uuid.NewString(),
		CustomerID: customer.ID,
		StartedAt:  at,
		FlowState:  entities.StateGreeting,
	}
	err = s.Conversations.Create(ctx, conv)
	if errors.Is(err, repository.ErrDuplicate) {
		conv, err = s.Conversations.GetActiveByCustomer(ctx, customer.ID)
	}
	if err != nil {
		return nil, newError(ErrorPersistence, "could not start conversation", err)
	}
	return conv, nil
}
