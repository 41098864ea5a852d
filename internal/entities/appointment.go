package entities

import "time"

// Slot is one of the three fixed daily technician windows.
type Slot string

const (
	SlotMorning   Slot = "morning"
	SlotAfternoon Slot = "afternoon"
	SlotEvening   Slot = "evening"
)

var Slots = []Slot{SlotMorning, SlotAfternoon, SlotEvening}

// Window returns the wall-clock range covered by the slot.
func (s Slot) Window() string {
	switch s {
	case SlotMorning:
		return "09:00-12:00"
	case SlotAfternoon:
		return "12:00-15:00"
	case SlotEvening:
		return "15:00-18:00"
	}
	return ""
}

func (s Slot) Valid() bool {
	return s.Window() != ""
}

type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

type Appointment struct {
	ID             int64             `json:"id"`
	CustomerID     int64             `json:"customer_id"`
	TicketID       *int64            `json:"ticket_id,omitempty"`
	TechnicianName string            `json:"technician_name,omitempty"`
	Date           time.Time         `json:"date"`
	Slot           Slot              `json:"slot"`
	Status         AppointmentStatus `json:"status"`
	Notes          string            `json:"notes,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// DateString formats the appointment date as YYYY-MM-DD.
func (a *Appointment) DateString() string {
	return a.Date.Format(DateLayout)
}

// DateLayout is the canonical appointment date format.
const DateLayout = "2006-01-02"
