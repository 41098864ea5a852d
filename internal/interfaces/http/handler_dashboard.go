package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"support_flow/internal/entities"
	"support_flow/internal/repository"
	"support_flow/internal/usecases"
)

type TicketAPI interface {
	Create(ctx context.Context, in usecases.NewTicket) (*entities.Ticket, error)
	Get(ctx context.Context, id int64) (*entities.Ticket, error)
	List(ctx context.Context, f repository.TicketFilter) ([]entities.Ticket, error)
	Update(ctx context.Context, id int64, u usecases.TicketUpdate) (*entities.Ticket, error)
}

type AppointmentAPI interface {
	Create(ctx context.Context, req usecases.AppointmentRequest) (*entities.Appointment, error)
	Get(ctx context.Context, id int64) (*entities.Appointment, error)
	List(ctx context.Context, f repository.AppointmentFilter) ([]entities.Appointment, error)
	Update(ctx context.Context, id int64, u usecases.AppointmentUpdate) (*entities.Appointment, error)
	Cancel(ctx context.Context, id int64) (*entities.Appointment, error)
	CheckAvailability(ctx context.Context, dateText, timeText string) (usecases.Availability, error)
	AvailabilityRange(ctx context.Context, from, to time.Time) (map[string]map[entities.Slot]bool, error)
}

type DashboardAPI interface {
	Stats(ctx context.Context) (*usecases.Stats, error)
	CreateCustomer(ctx context.Context, c *entities.Customer) error
	GetCustomer(ctx context.Context, id int64) (*entities.Customer, error)
	ListCustomers(ctx context.Context, limit, offset int) ([]entities.Customer, error)
}

// DashboardHandler serves the staff API for tickets, appointments and
// customers.
type DashboardHandler struct {
	tickets      TicketAPI
	appointments AppointmentAPI
	dashboard    DashboardAPI
}

func NewDashboardHandler(tickets TicketAPI, appointments AppointmentAPI, dashboard DashboardAPI) *DashboardHandler {
	return &DashboardHandler{tickets: tickets, appointments: appointments, dashboard: dashboard}
}

func (h *DashboardHandler) GetStats(c *gin.Context) {
	stats, err := h.dashboard.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ========================================
// Tickets
// ========================================

func (h *DashboardHandler) ListTickets(c *gin.Context) {
	customerID, _ := parseID(c.Query("customer_id"))
	tickets, err := h.tickets.List(c.Request.Context(), repository.TicketFilter{
		Status:     entities.TicketStatus(c.Query("status")),
		CustomerID: customerID,
		Limit:      queryInt(c.Query("limit"), 50),
		Offset:     queryInt(c.Query("offset"), 0),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tickets)
}

func (h *DashboardHandler) CreateTicket(c *gin.Context) {
	var req usecases.NewTicket
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "customer_id, issue_type and description are required"})
		return
	}
	t, err := h.tickets.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *DashboardHandler) GetTicket(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ticket id"})
		return
	}
	t, err := h.tickets.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *DashboardHandler) UpdateTicket(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ticket id"})
		return
	}
	var req usecases.TicketUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if uid := c.GetInt(ctxUserID); uid != 0 {
		req.UserID = &uid
	}
	t, err := h.tickets.Update(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// ========================================
// Appointments
// ========================================

func (h *DashboardHandler) ListAppointments(c *gin.Context) {
	from, okFrom := parseDateParam(c.Query("from"))
	to, okTo := parseDateParam(c.Query("to"))
	if !okFrom || !okTo {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dates must be YYYY-MM-DD"})
		return
	}
	customerID, _ := parseID(c.Query("customer_id"))
	appointments, err := h.appointments.List(c.Request.Context(), repository.AppointmentFilter{
		Status:     entities.AppointmentStatus(c.Query("status")),
		CustomerID: customerID,
		From:       from,
		To:         to,
		Limit:      queryInt(c.Query("limit"), 50),
		Offset:     queryInt(c.Query("offset"), 0),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, appointments)
}

func (h *DashboardHandler) CreateAppointment(c *gin.Context) {
	var req usecases.AppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "customer_id, date and slot are required"})
		return
	}
	a, err := h.appointments.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *DashboardHandler) GetAppointment(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid appointment id"})
		return
	}
	a, err := h.appointments.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// UpdateAppointment applies a move, status, technician and notes change as
// one write.
func (h *DashboardHandler) UpdateAppointment(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid appointment id"})
		return
	}
	var req usecases.AppointmentUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	a, err := h.appointments.Update(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *DashboardHandler) CancelAppointment(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid appointment id"})
		return
	}
	a, err := h.appointments.Cancel(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// GetAvailability answers either a single slot query (date + time) or a
// range query (from + to).
func (h *DashboardHandler) GetAvailability(c *gin.Context) {
	if date := c.Query("date"); date != "" {
		avail, err := h.appointments.CheckAvailability(c.Request.Context(), date, c.Query("time"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, avail)
		return
	}

	from, okFrom := parseDateParam(c.Query("from"))
	to, okTo := parseDateParam(c.Query("to"))
	if !okFrom || !okTo || from == nil || to == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Provide date and time, or from and to as YYYY-MM-DD"})
		return
	}
	days, err := h.appointments.AvailabilityRange(c.Request.Context(), *from, *to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, days)
}

// ========================================
// Customers
// ========================================

func (h *DashboardHandler) ListCustomers(c *gin.Context) {
	customers, err := h.dashboard.ListCustomers(c.Request.Context(),
		queryInt(c.Query("limit"), 50), queryInt(c.Query("offset"), 0))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customers)
}

func (h *DashboardHandler) CreateCustomer(c *gin.Context) {
	var req entities.Customer
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	customer := &entities.Customer{
		PhoneNumber:   req.PhoneNumber,
		Name:          SanitizeString(req.Name),
		Email:         SanitizeString(req.Email),
		Address:       SanitizeString(req.Address),
		ServicePlan:   SanitizeString(req.ServicePlan),
		AccountNumber: SanitizeString(req.AccountNumber),
	}
	if customer.PhoneNumber != "" && !ValidSender(customer.PhoneNumber) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid phone number"})
		return
	}
	if err := h.dashboard.CreateCustomer(c.Request.Context(), customer); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

func (h *DashboardHandler) GetCustomer(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid customer id"})
		return
	}
	customer, err := h.dashboard.GetCustomer(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}
