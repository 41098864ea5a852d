package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"support_flow/internal/config"
	"support_flow/internal/entities"
	"support_flow/internal/interfaces"
	"support_flow/internal/repository"
)

const msgMissingDateTime = "Faltan datos para la cita (fecha o hora)"

// dateLayouts are tried in order; the first successful parse wins.
var dateLayouts = []string{"2006-01-02", "02/01/2006", "02-01-2006"}

// AppointmentStore is the persistence used by AppointmentService.
type AppointmentStore interface {
	CountActive(ctx context.Context, date time.Time, slot entities.Slot, excludeID int64) (int, error)
	Book(ctx context.Context, a *entities.Appointment, capacity int) (bool, error)
	Update(ctx context.Context, a *entities.Appointment, capacity int) (bool, error)
	SetStatus(ctx context.Context, id int64, status entities.AppointmentStatus) (*entities.Appointment, error)
	GetByID(ctx context.Context, id int64) (*entities.Appointment, error)
	List(ctx context.Context, f repository.AppointmentFilter) ([]entities.Appointment, error)
	Occupancy(ctx context.Context, from, to time.Time) (map[string]map[entities.Slot]int, error)
}

// TicketLookup resolves tickets referenced from a conversation.
type TicketLookup interface {
	GetByNumber(ctx context.Context, number string) (*entities.Ticket, error)
}

// AppointmentResult is the conversational outcome of a booking attempt.
// Message is always suitable to relay to the customer.
type AppointmentResult struct {
	Success       bool          `json:"success"`
	Code          ErrorCode     `json:"code,omitempty"`
	Message       string        `json:"message"`
	AppointmentID int64         `json:"appointment_id,omitempty"`
	Date          string        `json:"date,omitempty"`
	Slot          entities.Slot `json:"slot,omitempty"`
}

// AppointmentRequest is the input for direct appointment creation.
type AppointmentRequest struct {
	CustomerID     int64  `json:"customer_id" binding:"required"`
	TicketID       *int64 `json:"ticket_id"`
	Date           string `json:"date" binding:"required"`
	Slot           string `json:"slot" binding:"required"`
	TechnicianName string `json:"technician_name"`
	Notes          string `json:"notes"`
}

// AppointmentUpdate is a partial change to an appointment. Date and Slot
// move the booking and must be given together; nil fields are kept.
type AppointmentUpdate struct {
	Date           string                     `json:"date"`
	Slot           string                     `json:"slot"`
	Status         entities.AppointmentStatus `json:"status"`
	TechnicianName *string                    `json:"technician_name"`
	Notes          *string                    `json:"notes"`
}

// Availability describes one (date, slot) pair.
type Availability struct {
	Date      string        `json:"date"`
	Slot      entities.Slot `json:"slot"`
	Window    string        `json:"window"`
	Booked    int           `json:"booked"`
	Capacity  int           `json:"capacity"`
	Available bool          `json:"available"`
}

// AppointmentService manages technician visits under the per-slot capacity
// rule.
type AppointmentService struct {
	store     AppointmentStore
	tickets   TicketLookup
	keywords  *KeywordTable
	settings  *config.Settings
	publisher interfaces.EventPublisher
	log       zerolog.Logger
}

// NewAppointmentService creates the service. A nil keyword table selects the
// embedded defaults; a nil publisher disables events.
func NewAppointmentService(store AppointmentStore, tickets TicketLookup, keywords *KeywordTable, settings *config.Settings, publisher interfaces.EventPublisher, log zerolog.Logger) *AppointmentService {
	if keywords == nil {
		keywords = DefaultKeywords()
	}
	return &AppointmentService{
		store:     store,
		tickets:   tickets,
		keywords:  keywords,
		settings:  settings,
		publisher: publisher,
		log:       log,
	}
}

// NormalizeSlot maps a free-text time expression to a slot.
func (s *AppointmentService) NormalizeSlot(text string) (entities.Slot, bool) {
	return s.keywords.NormalizeSlot(text)
}

// ParseAppointmentDate accepts YYYY-MM-DD, DD/MM/YYYY or DD-MM-YYYY and
// returns midnight UTC of that day.
func ParseAppointmentDate(text string) (time.Time, error) {
	text = strings.TrimSpace(text)
	for _, layout := range dateLayouts {
		if d, err := time.ParseInLocation(layout, text, time.UTC); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", text)
}

func isWeekend(d time.Time) bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (s *AppointmentService) capacity() int {
	if c := s.settings.Current().SlotCapacity; c > 0 {
		return c
	}
	return 1
}

// resolve validates a date and time expression into a bookable weekday slot.
func (s *AppointmentService) resolve(dateText, timeText string) (time.Time, entities.Slot, error) {
	slot, ok := s.NormalizeSlot(timeText)
	if !ok {
		return time.Time{}, "", newError(ErrorValidation,
			fmt.Sprintf("Horario no válido: %q. Opciones: mañana (09:00-12:00), tarde (12:00-15:00) o tarde-noche (15:00-18:00)", timeText), nil)
	}
	date, err := ParseAppointmentDate(dateText)
	if err != nil {
		return time.Time{}, "", newError(ErrorValidation,
			fmt.Sprintf("Formato de fecha no válido: %q. Usa AAAA-MM-DD o DD/MM/AAAA", dateText), err)
	}
	if isWeekend(date) {
		return time.Time{}, "", newError(ErrorValidation,
			fmt.Sprintf("Las citas solo están disponibles de lunes a viernes; el %s es fin de semana", date.Format(entities.DateLayout)), nil)
	}
	return date, slot, nil
}

// HandleAppointmentRequest books the date and time found in the analysis
// entities. Failures come back as a result, never as an error.
func (s *AppointmentService) HandleAppointmentRequest(ctx context.Context, customer *entities.Customer, conv *entities.Conversation, analysis entities.Analysis) AppointmentResult {
	analysis = analysis.Normalize()
	dateText, hasDate := analysis.Entities.String("date")
	timeText, hasTime := analysis.Entities.String("time")
	if !hasDate || !hasTime {
		return AppointmentResult{Code: ErrorValidation, Message: msgMissingDateTime}
	}

	req := AppointmentRequest{
		CustomerID: customer.ID,
		Date:       dateText,
		Slot:       timeText,
	}
	if notes, ok := analysis.Entities.String("problem_description"); ok {
		req.Notes = notes
	}
	if number, ok := analysis.Entities.String("ticket_number"); ok && s.tickets != nil {
		t, err := s.tickets.GetByNumber(ctx, strings.ToUpper(number))
		switch {
		case err == nil && t.CustomerID == customer.ID:
			req.TicketID = &t.ID
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			s.log.Warn().Err(err).Str("ticket_number", number).Msg("ticket lookup failed")
		default:
			s.log.Info().Str("ticket_number", number).Int64("conversation_id", conv.ID).Msg("ticket reference ignored")
		}
	}

	a, err := s.Create(ctx, req)
	if err != nil {
		var ue *Error
		if errors.As(err, &ue) {
			return AppointmentResult{Code: ue.Code, Message: ue.Reason}
		}
		return AppointmentResult{Code: ErrorPersistence, Message: "No se pudo agendar la cita"}
	}
	return AppointmentResult{
		Success:       true,
		Message:       fmt.Sprintf("Cita agendada para el %s en horario %s (%s)", a.DateString(), slotLabel(a.Slot), a.Slot.Window()),
		AppointmentID: a.ID,
		Date:          a.DateString(),
		Slot:          a.Slot,
	}
}

// Create books an appointment if the slot still has capacity.
func (s *AppointmentService) Create(ctx context.Context, req AppointmentRequest) (*entities.Appointment, error) {
	if req.CustomerID == 0 {
		return nil, newError(ErrorValidation, "customer_id is required", nil)
	}
	if strings.TrimSpace(req.Date) == "" || strings.TrimSpace(req.Slot) == "" {
		return nil, newError(ErrorValidation, msgMissingDateTime, nil)
	}
	date, slot, err := s.resolve(req.Date, req.Slot)
	if err != nil {
		return nil, err
	}

	a := &entities.Appointment{
		CustomerID:     req.CustomerID,
		TicketID:       req.TicketID,
		TechnicianName: strings.TrimSpace(req.TechnicianName),
		Date:           date,
		Slot:           slot,
		Status:         entities.AppointmentScheduled,
		Notes:          strings.TrimSpace(req.Notes),
	}
	booked, err := s.store.Book(ctx, a, s.capacity())
	if err != nil {
		return nil, newError(ErrorPersistence, "No se pudo agendar la cita", err)
	}
	if !booked {
		return nil, newError(ErrorConflict, unavailableMessage(date, slot), nil)
	}

	s.log.Info().Int64("appointment_id", a.ID).Str("date", a.DateString()).Str("slot", string(a.Slot)).Msg("appointment scheduled")
	s.publish(ctx, "appointment.scheduled", a)
	return a, nil
}

// CheckAvailability reports whether the slot described by dateText and
// timeText can take another booking. It never writes.
func (s *AppointmentService) CheckAvailability(ctx context.Context, dateText, timeText string) (Availability, error) {
	date, slot, err := s.resolve(dateText, timeText)
	if err != nil {
		return Availability{}, err
	}
	booked, err := s.store.CountActive(ctx, date, slot, 0)
	if err != nil {
		return Availability{}, newError(ErrorPersistence, "could not check availability", err)
	}
	capacity := s.capacity()
	return Availability{
		Date:      date.Format(entities.DateLayout),
		Slot:      slot,
		Window:    slot.Window(),
		Booked:    booked,
		Capacity:  capacity,
		Available: booked < capacity,
	}, nil
}

// AvailabilityRange returns slot availability for every weekday in
// [from, to], keyed by YYYY-MM-DD.
func (s *AppointmentService) AvailabilityRange(ctx context.Context, from, to time.Time) (map[string]map[entities.Slot]bool, error) {
	from = truncateDay(from)
	to = truncateDay(to)
	if to.Before(from) {
		return nil, newError(ErrorValidation, "end date must not be before start date", nil)
	}
	maxDays := s.settings.Current().MaxAvailabilityDays
	if days := int(to.Sub(from).Hours()/24) + 1; days > maxDays {
		return nil, newError(ErrorValidation, fmt.Sprintf("range must not exceed %d days", maxDays), nil)
	}

	occupancy, err := s.store.Occupancy(ctx, from, to)
	if err != nil {
		return nil, newError(ErrorPersistence, "could not check availability", err)
	}
	capacity := s.capacity()

	result := make(map[string]map[entities.Slot]bool)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if isWeekend(d) {
			continue
		}
		key := d.Format(entities.DateLayout)
		day := make(map[entities.Slot]bool, len(entities.Slots))
		for _, slot := range entities.Slots {
			day[slot] = occupancy[key][slot] < capacity
		}
		result[key] = day
	}
	return result, nil
}

// Reschedule moves a scheduled appointment. The appointment does not count
// against its own new slot.
func (s *AppointmentService) Reschedule(ctx context.Context, id int64, dateText, timeText string) (*entities.Appointment, error) {
	return s.Update(ctx, id, AppointmentUpdate{Date: dateText, Slot: timeText})
}

// Update validates every field of u before storing any of them, then writes
// the move, status, technician and notes together.
func (s *AppointmentService) Update(ctx context.Context, id int64, u AppointmentUpdate) (*entities.Appointment, error) {
	move := strings.TrimSpace(u.Date) != ""
	if move != (strings.TrimSpace(u.Slot) != "") {
		return nil, newError(ErrorValidation, "date and slot must be given together", nil)
	}
	if !move && u.Status == "" && u.TechnicianName == nil && u.Notes == nil {
		return nil, newError(ErrorValidation, "nothing to update", nil)
	}
	if u.Status != "" && !validAppointmentStatus(u.Status) {
		return nil, newError(ErrorValidation, fmt.Sprintf("invalid status %q", u.Status), nil)
	}

	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	kind := "appointment.updated"
	if u.Status != "" && u.Status != a.Status {
		if a.Status == entities.AppointmentCancelled && u.Status == entities.AppointmentScheduled {
			return nil, newError(ErrorConflict, "cancelled appointments cannot be reactivated; book a new one", nil)
		}
		kind = "appointment." + string(u.Status)
		a.Status = u.Status
	}
	capacity := 0
	if move {
		if a.Status != entities.AppointmentScheduled {
			return nil, newError(ErrorConflict, fmt.Sprintf("appointment %d is %s", id, a.Status), nil)
		}
		if a.Date, a.Slot, err = s.resolve(u.Date, u.Slot); err != nil {
			return nil, err
		}
		kind = "appointment.rescheduled"
		capacity = s.capacity()
	}
	if u.TechnicianName != nil {
		a.TechnicianName = strings.TrimSpace(*u.TechnicianName)
	}
	if u.Notes != nil {
		a.Notes = strings.TrimSpace(*u.Notes)
	}

	saved, err := s.store.Update(ctx, a, capacity)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(ErrorNotFound, fmt.Sprintf("appointment %d not found", id), err)
	}
	if err != nil {
		return nil, newError(ErrorPersistence, "could not update appointment", err)
	}
	if !saved {
		return nil, newError(ErrorConflict, unavailableMessage(a.Date, a.Slot), nil)
	}
	s.log.Info().Int64("appointment_id", a.ID).Str("event", kind).Msg("appointment updated")
	s.publish(ctx, kind, a)
	return a, nil
}

// Cancel frees the slot. Cancelling a cancelled appointment is a no-op.
func (s *AppointmentService) Cancel(ctx context.Context, id int64) (*entities.Appointment, error) {
	return s.SetStatus(ctx, id, entities.AppointmentCancelled)
}

// SetStatus changes the appointment status.
func (s *AppointmentService) SetStatus(ctx context.Context, id int64, status entities.AppointmentStatus) (*entities.Appointment, error) {
	if !validAppointmentStatus(status) {
		return nil, newError(ErrorValidation, fmt.Sprintf("invalid status %q", status), nil)
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == status {
		return current, nil
	}
	if current.Status == entities.AppointmentCancelled && status == entities.AppointmentScheduled {
		return nil, newError(ErrorConflict, "cancelled appointments cannot be reactivated; book a new one", nil)
	}

	a, err := s.store.SetStatus(ctx, id, status)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(ErrorNotFound, fmt.Sprintf("appointment %d not found", id), err)
	}
	if err != nil {
		return nil, newError(ErrorPersistence, "could not update appointment", err)
	}
	s.publish(ctx, "appointment."+string(status), a)
	return a, nil
}

func (s *AppointmentService) Get(ctx context.Context, id int64) (*entities.Appointment, error) {
	a, err := s.store.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(ErrorNotFound, fmt.Sprintf("appointment %d not found", id), err)
	}
	if err != nil {
		return nil, newError(ErrorPersistence, "could not load appointment", err)
	}
	return a, nil
}

func (s *AppointmentService) List(ctx context.Context, f repository.AppointmentFilter) ([]entities.Appointment, error) {
	f.Limit = clampLimit(f.Limit)
	appointments, err := s.store.List(ctx, f)
	if err != nil {
		return nil, newError(ErrorPersistence, "could not list appointments", err)
	}
	return appointments, nil
}

func (s *AppointmentService) publish(ctx context.Context, kind string, a *entities.Appointment) {
	if s.publisher == nil {
		return
	}
	key := fmt.Sprintf("appointment-%d", a.ID)
	if err := s.publisher.Publish(ctx, key, map[string]any{"type": kind, "appointment": a}); err != nil {
		s.log.Warn().Err(err).Str("event", kind).Msg("publish failed")
	}
}

func validAppointmentStatus(status entities.AppointmentStatus) bool {
	switch status {
	case entities.AppointmentScheduled, entities.AppointmentCompleted, entities.AppointmentCancelled:
		return true
	}
	return false
}

func unavailableMessage(date time.Time, slot entities.Slot) string {
	return fmt.Sprintf("El horario %s (%s) del %s no está disponible", slotLabel(slot), slot.Window(), date.Format(entities.DateLayout))
}

func slotLabel(slot entities.Slot) string {
	switch slot {
	case entities.SlotMorning:
		return "mañana"
	case entities.SlotAfternoon:
		return "tarde"
	case entities.SlotEvening:
		return "tarde-noche"
	}
	return string(slot)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
