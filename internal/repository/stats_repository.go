package repository

import (
	"context"
	"time"

	"support_flow/internal/entities"
)

// StatsRepository aggregates dashboard counters across tables.
type StatsRepository struct {
	tickets       *TicketRepository
	conversations *ConversationRepository
	appointments  *AppointmentRepository
	usage         *UsageRepository
}

func NewStatsRepository(tickets *TicketRepository, conversations *ConversationRepository, appointments *AppointmentRepository, usage *UsageRepository) *StatsRepository {
	return &StatsRepository{tickets: tickets, conversations: conversations, appointments: appointments, usage: usage}
}

func (r *StatsRepository) TicketsByStatus(ctx context.Context) (map[entities.TicketStatus]int, error) {
	return r.tickets.CountByStatus(ctx)
}

func (r *StatsRepository) ConversationsByStatus(ctx context.Context) (map[entities.ConversationStatus]int, error) {
	return r.conversations.CountByStatus(ctx)
}

func (r *StatsRepository) UpcomingAppointments(ctx context.Context, from time.Time) (int, error) {
	return r.appointments.CountUpcoming(ctx, from)
}

func (r *StatsRepository) MessageVolume(ctx context.Context, since time.Time) ([]DailyUsage, error) {
	return r.usage.DailyVolume(ctx, since)
}
