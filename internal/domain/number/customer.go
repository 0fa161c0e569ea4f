package number

import "strings"

// CustomerInfo identifies the end customer a number is provisioned for.
// Constraints live on the validate tags and are enforced when the enclosing
// request runs checkTags.
type CustomerInfo struct {
	Name    string   `json:"name" validate:"required,min=1,max=255"`
	Email   string   `json:"email" validate:"required,email"`
	Company string   `json:"company,omitempty" validate:"omitempty,max=255"`
	Phone   string   `json:"phone,omitempty" validate:"omitempty,e164"`
	Address *Address `json:"address,omitempty"`
}

func (c *CustomerInfo) normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	c.Company = strings.TrimSpace(c.Company)
	c.Phone = strings.TrimSpace(c.Phone)
	if c.Address != nil {
		c.Address.normalize()
	}
}

// Address is a postal service address
type Address struct {
	Street     string `json:"street" validate:"required,max=255"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state,omitempty" validate:"omitempty,max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,len=2,alpha"`
}

func (a *Address) normalize() {
	a.Street = strings.TrimSpace(a.Street)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
}

// BillingInfo carries optional billing details passed through to the carrier
type BillingInfo struct {
	Email            string   `json:"email,omitempty" validate:"omitempty,email"`
	PaymentReference string   `json:"payment_reference,omitempty" validate:"omitempty,max=255"`
	Address          *Address `json:"address,omitempty"`
}

func (b *BillingInfo) normalize() {
	b.Email = strings.TrimSpace(b.Email)
	b.PaymentReference = strings.TrimSpace(b.PaymentReference)
	if b.Address != nil {
		b.Address.normalize()
	}
}
