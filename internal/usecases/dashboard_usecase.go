package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"support_flow/internal/config"
	"support_flow/internal/entities"
	"support_flow/internal/repository"
)

type StatsStore interface {
	TicketsByStatus(ctx context.Context) (map[entities.TicketStatus]int, error)
	ConversationsByStatus(ctx context.Context) (map[entities.ConversationStatus]int, error)
	UpcomingAppointments(ctx context.Context, from time.Time) (int, error)
	MessageVolume(ctx context.Context, since time.Time) ([]repository.DailyUsage, error)
}

// volumeDays is how many days of message traffic Stats reports, today
// included.
const volumeDays = 7

type CustomerDirectory interface {
	Create(ctx context.Context, c *entities.Customer) error
	GetByID(ctx context.Context, id int64) (*entities.Customer, error)
	List(ctx context.Context, limit, offset int) ([]entities.Customer, error)
}

type ConfigStore interface {
	SetConfig(ctx context.Context, key, value string) error
	GetAllConfigs(ctx context.Context) ([]repository.BotConfig, error)
}

// Stats is the dashboard summary.
type Stats struct {
	Tickets              map[entities.TicketStatus]int       `json:"tickets"`
	Conversations        map[entities.ConversationStatus]int `json:"conversations"`
	UpcomingAppointments int                                 `json:"upcoming_appointments"`
	MessageVolume        []repository.DailyUsage             `json:"message_volume"`
}

// DashboardUsecase backs the staff API for customers, stats and settings.
type DashboardUsecase struct {
	stats     StatsStore
	customers CustomerDirectory
	configs   ConfigStore
	settings  *config.Settings
	now       func() time.Time
}

func NewDashboardUsecase(stats StatsStore, customers CustomerDirectory, configs ConfigStore, settings *config.Settings) *DashboardUsecase {
	return &DashboardUsecase{
		stats:     stats,
		customers: customers,
		configs:   configs,
		settings:  settings,
		now:       time.Now,
	}
}

func (u *DashboardUsecase) Stats(ctx context.Context) (*Stats, error) {
	tickets, err := u.stats.TicketsByStatus(ctx)
	if err != nil {
		return nil, newError(ErrorPersistence, "could not load stats", err)
	}
	conversations, err := u.stats.ConversationsByStatus(ctx)
	if err != nil {
		return nil, newError(ErrorPersistence, "could not load stats", err)
	}
	y, m, d := u.now().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	upcoming, err := u.stats.UpcomingAppointments(ctx, today)
	if err != nil {
		return nil, newError(ErrorPersistence, "could not load stats", err)
	}
	volume, err := u.stats.MessageVolume(ctx, today.AddDate(0, 0, 1-volumeDays))
	if err != nil {
		return nil, newError(ErrorPersistence, "could not load stats", err)
	}
	return &Stats{
		Tickets:              tickets,
		Conversations:        conversations,
		UpcomingAppointments: upcoming,
		MessageVolume:        volume,
	}, nil
}

// CreateCustomer registers a customer. A taken phone number is a conflict.
func (u *DashboardUsecase) CreateCustomer(ctx context.Context, c *entities.Customer) error {
	c.PhoneNumber = strings.TrimSpace(c.PhoneNumber)
	if c.PhoneNumber == "" {
		return newError(ErrorValidation, "phone_number is required", nil)
	}
	err := u.customers.Create(ctx, c)
	if errors.Is(err, repository.ErrDuplicate) {
		return newError(ErrorConflict, fmt.Sprintf("customer with phone %s already exists", c.PhoneNumber), err)
	}
	if err != nil {
		return newError(ErrorPersistence, "could not create customer", err)
	}
	return nil
}

func (u *DashboardUsecase) GetCustomer(ctx context.Context, id int64) (*entities.Customer, error) {
	c, err := u.customers.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(ErrorNotFound, fmt.Sprintf("customer %d not found", id), err)
	}
	if err != nil {
		return nil, newError(ErrorPersistence, "could not load customer", err)
	}
	return c, nil
}

func (u *DashboardUsecase) ListCustomers(ctx context.Context, limit, offset int) ([]entities.Customer, error) {
	customers, err := u.customers.List(ctx, clampLimit(limit), offset)
	if err != nil {
		return nil, newError(ErrorPersistence, "could not list customers", err)
	}
	return customers, nil
}

// Settings returns the stored overrides and the effective values.
func (u *DashboardUsecase) Settings(ctx context.Context) ([]repository.BotConfig, config.BotSettings, error) {
	stored, err := u.configs.GetAllConfigs(ctx)
	if err != nil {
		return nil, config.BotSettings{}, newError(ErrorPersistence, "could not load settings", err)
	}
	return stored, u.settings.Current(), nil
}

// SetSetting stores an override and reloads the effective settings. An
// override that makes the settings invalid is still stored but reported.
func (u *DashboardUsecase) SetSetting(ctx context.Context, key, value string) (config.BotSettings, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return config.BotSettings{}, newError(ErrorValidation, "key is required", nil)
	}
	if err := u.configs.SetConfig(ctx, key, value); err != nil {
		return config.BotSettings{}, newError(ErrorPersistence, "could not store setting", err)
	}
	return u.ReloadSettings(ctx)
}

func (u *DashboardUsecase) ReloadSettings(ctx context.Context) (config.BotSettings, error) {
	current, err := u.settings.Reload(ctx)
	if err != nil {
		return current, newError(ErrorValidation, "settings reload rejected", err)
	}
	return current, nil
}
