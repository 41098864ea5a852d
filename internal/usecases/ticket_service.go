package usecases

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"support_flow/internal/config"
	"support_flow/internal/entities"
	"support_flow/internal/interfaces"
	"support_flow/internal/repository"
)

const (
	ticketNumberAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	ticketNumberAttempts = 5
	defaultIssueType     = "Problema técnico"
)

// TicketStore is the persistence used by TicketService.
type TicketStore interface {
	NumberExists(ctx context.Context, number string) (bool, error)
	Create(ctx context.Context, t *entities.Ticket) error
	GetByID(ctx context.Context, id int64) (*entities.Ticket, error)
	GetByNumber(ctx context.Context, number string) (*entities.Ticket, error)
	List(ctx context.Context, f repository.TicketFilter) ([]entities.Ticket, error)
	Update(ctx context.Context, t *entities.Ticket, note *entities.TicketNote) error
}

// MessageHistory reads recent conversation messages.
type MessageHistory interface {
	Recent(ctx context.Context, conversationID int64, limit int) ([]entities.Message, error)
}

// NewTicket is the input for direct ticket creation.
type NewTicket struct {
	CustomerID     int64                   `json:"customer_id" binding:"required"`
	ConversationID *int64                  `json:"conversation_id"`
	IssueType      string                  `json:"issue_type" binding:"required"`
	Description    string                  `json:"description" binding:"required"`
	Priority       entities.TicketPriority `json:"priority"`
}

// TicketUpdate changes a ticket; nil fields are left as they are.
type TicketUpdate struct {
	Status      *entities.TicketStatus   `json:"status"`
	Priority    *entities.TicketPriority `json:"priority"`
	Description *string                  `json:"description"`
	Note        string                   `json:"note"`
	UserID      *int                     `json:"-"`
}

type TicketService struct {
	tickets   TicketStore
	messages  MessageHistory
	settings  *config.Settings
	publisher interfaces.EventPublisher
	log       zerolog.Logger

	now  func() time.Time
	intn func(n int) int
}

func NewTicketService(tickets TicketStore, messages MessageHistory, settings *config.Settings, publisher interfaces.EventPublisher, log zerolog.Logger) *TicketService {
	return &TicketService{
		tickets:   tickets,
		messages:  messages,
		settings:  settings,
		publisher: publisher,
		log:       log,
		now:       time.Now,
		intn:      rand.IntN,
	}
}

// GenerateTicketNumber formats TKT-<YYYYMMDD>-<4 uppercase alphanumerics>.
func GenerateTicketNumber(now time.Time, intn func(n int) int) string {
	var suffix [4]byte
	for i := range suffix {
		suffix[i] = ticketNumberAlphabet[intn(len(ticketNumberAlphabet))]
	}
	return fmt.Sprintf("TKT-%s-%s", now.Format("20060102"), suffix[:])
}

// PriorityForUrgency maps classifier urgency to ticket priority.
func PriorityForUrgency(urgency string) entities.TicketPriority {
	switch strings.ToLower(strings.TrimSpace(urgency)) {
	case entities.UrgencyHigh:
		return entities.PriorityHigh
	case entities.UrgencyMedium:
		return entities.PriorityMedium
	}
	return entities.PriorityLow
}

// CreateFromConversation opens a ticket describing the recent conversation.
func (s *TicketService) CreateFromConversation(ctx context.Context, customer *entities.Customer, conv *entities.Conversation, analysis entities.Analysis) (*entities.Ticket, error) {
	analysis = analysis.Normalize()

	issueType := defaultIssueType
	if v, ok := analysis.Entities.String("tipo_problema"); ok {
		issueType = v
	}

	recent, err := s.messages.Recent(ctx, conv.ID, s.settings.Current().DescriptionMessages)
	if err != nil {
		return nil, newError(ErrorPersistence, "could not read conversation", err)
	}
	var lines []string
	for _, m := range recent {
		if m.Direction == entities.DirectionIncoming {
			lines = append(lines, "Cliente: "+m.Content)
		} else {
			lines = append(lines, "Asistente: "+m.Content)
		}
	}
	description := strings.Join(lines, "\n")
	if description == "" {
		if v, ok := analysis.Entities.String("problem_description"); ok {
			description = v
		} else {
			description = issueType
		}
	}

	convID := conv.ID
	t := &entities.Ticket{
		CustomerID:     customer.ID,
		ConversationID: &convID,
		IssueType:      issueType,
		Description:    description,
		Status:         entities.TicketOpen,
		Priority:       PriorityForUrgency(analysis.Urgency),
	}
	if err := s.insert(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Create opens a ticket from staff input.
func (s *TicketService) Create(ctx context.Context, in NewTicket) (*entities.Ticket, error) {
	if in.CustomerID == 0 || strings.TrimSpace(in.IssueType) == "" || strings.TrimSpace(in.Description) == "" {
		return nil, newError(ErrorValidation, "customer_id, issue_type and description are required", nil)
	}
	priority := in.Priority
	if priority == "" {
		priority = entities.PriorityMedium
	}
	if !validPriority(priority) {
		return nil, newError(ErrorValidation, fmt.Sprintf("invalid priority %q", priority), nil)
	}

	t := &entities.Ticket{
		CustomerID:     in.CustomerID,
		ConversationID: in.ConversationID,
		IssueType:      strings.TrimSpace(in.IssueType),
		Description:    strings.TrimSpace(in.Description),
		Status:         entities.TicketOpen,
		Priority:       priority,
	}
	if err := s.insert(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// insert assigns a fresh ticket number, regenerating on collision.
func (s *TicketService) insert(ctx context.Context, t *entities.Ticket) error {
	for attempt := 0; attempt < ticketNumberAttempts; attempt++ {
		number := GenerateTicketNumber(s.now(), s.intn)
		exists, err := s.tickets.NumberExists(ctx, number)
		if err != nil {
			return newError(ErrorPersistence, "could not create ticket", err)
		}
		if exists {
			continue
		}

		t.TicketNumber = number
		err = s.tickets.Create(ctx, t)
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		if err != nil {
			return newError(ErrorPersistence, "could not create ticket", err)
		}

		s.log.Info().Str("ticket_number", t.TicketNumber).Int64("customer_id", t.CustomerID).Msg("ticket created")
		s.publish(ctx, t.TicketNumber, "ticket.created", t)
		return nil
	}
	return newError(ErrorConflict, "could not allocate a unique ticket number", nil)
}

func (s *TicketService) Get(ctx context.Context, id int64) (*entities.Ticket, error) {
	t, err := s.tickets.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(ErrorNotFound, fmt.Sprintf("ticket %d not found", id), err)
	}
	if err != nil {
		return nil, newError(ErrorPersistence, "could not load ticket", err)
	}
	return t, nil
}

// GetByNumber resolves a ticket from its public number.
func (s *TicketService) GetByNumber(ctx context.Context, number string) (*entities.Ticket, error) {
	t, err := s.tickets.GetByNumber(ctx, strings.ToUpper(strings.TrimSpace(number)))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(ErrorNotFound, fmt.Sprintf("ticket %s not found", number), err)
	}
	if err != nil {
		return nil, newError(ErrorPersistence, "could not load ticket", err)
	}
	return t, nil
}

func (s *TicketService) List(ctx context.Context, f repository.TicketFilter) ([]entities.Ticket, error) {
	if f.Status != "" && !validStatus(f.Status) {
		return nil, newError(ErrorValidation, fmt.Sprintf("invalid status %q", f.Status), nil)
	}
	f.Limit = clampLimit(f.Limit)
	tickets, err := s.tickets.List(ctx, f)
	if err != nil {
		return nil, newError(ErrorPersistence, "could not list tickets", err)
	}
	return tickets, nil
}

// Update applies u to ticket id. The first transition to closed stamps
// closed_at; reopening clears it.
func (s *TicketService) Update(ctx context.Context, id int64, u TicketUpdate) (*entities.Ticket, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if u.Status != nil {
		if !validStatus(*u.Status) {
			return nil, newError(ErrorValidation, fmt.Sprintf("invalid status %q", *u.Status), nil)
		}
		if *u.Status == entities.TicketClosed && t.ClosedAt == nil {
			now := s.now()
			t.ClosedAt = &now
		}
		if *u.Status != entities.TicketClosed {
			t.ClosedAt = nil
		}
		t.Status = *u.Status
	}
	if u.Priority != nil {
		if !validPriority(*u.Priority) {
			return nil, newError(ErrorValidation, fmt.Sprintf("invalid priority %q", *u.Priority), nil)
		}
		t.Priority = *u.Priority
	}
	if u.Description != nil {
		t.Description = strings.TrimSpace(*u.Description)
	}

	var note *entities.TicketNote
	if strings.TrimSpace(u.Note) != "" {
		note = &entities.TicketNote{UserID: u.UserID, Content: strings.TrimSpace(u.Note)}
	}
	if err := s.tickets.Update(ctx, t, note); err != nil {
		return nil, newError(ErrorPersistence, "could not update ticket", err)
	}
	s.publish(ctx, t.TicketNumber, "ticket.updated", t)
	return t, nil
}

func (s *TicketService) publish(ctx context.Context, key, kind string, t *entities.Ticket) {
	if s.publisher == nil {
		return
	}
	event := map[string]any{"type": kind, "ticket": t, "at": s.now().UTC()}
	if err := s.publisher.Publish(ctx, key, event); err != nil {
		s.log.Warn().Err(err).Str("event", kind).Msg("publish failed")
	}
}

func validStatus(s entities.TicketStatus) bool {
	switch s {
	case entities.TicketOpen, entities.TicketInProgress, entities.TicketClosed:
		return true
	}
	return false
}

func validPriority(p entities.TicketPriority) bool {
	switch p {
	case entities.PriorityLow, entities.PriorityMedium, entities.PriorityHigh:
		return true
	}
	return false
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
