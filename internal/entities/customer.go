package entities

import "time"

type Customer struct {
	ID              int64      `json:"id"`
	PhoneNumber     string     `json:"phone_number"`
	Name            string     `json:"name,omitempty"`
	Email           string     `json:"email,omitempty"`
	Address         string     `json:"address,omitempty"`
	ServicePlan     string     `json:"service_plan,omitempty"`
	AccountNumber   string     `json:"account_number,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	LastInteraction *time.Time `json:"last_interaction,omitempty"`
}

// DisplayName returns the customer name, or the phone number when unnamed.
func (c *Customer) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.PhoneNumber
}
