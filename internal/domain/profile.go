package domain

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// UserProfile is the contact data a campaign owner sends to target sites.
type UserProfile struct {
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	FirstName   string    `json:"firstName" db:"first_name" validate:"required"`
	LastName    string    `json:"lastName" db:"last_name"`
	Email       string    `json:"email" db:"email" validate:"required,email"`
	PhoneNumber string    `json:"phoneNumber" db:"phone_number"`
	CompanyName string    `json:"companyName" db:"company_name"`
	Subject     string    `json:"subject" db:"subject"`
	Message     string    `json:"message" db:"message"`
	WebsiteURL  string    `json:"websiteUrl" db:"website_url" validate:"omitempty,url"`
	DBCUsername *string   `json:"dbcUsername,omitempty" db:"dbc_username"`
	DBCPassword *string   `json:"-" db:"dbc_password"`
}

// Validate checks the fields every fill depends on.
func (p *UserProfile) Validate() error {
	if err := validate.Struct(p); err != nil {
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
		} else {
			fields = append(fields, err.Error())
		}
		return ValidationError("profile", "invalid profile: "+strings.Join(fields, ", "))
	}
	return nil
}

// FullName joins first and last name.
func (p *UserProfile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Map returns the profile as the key/value map the field mapper consumes.
// Empty values are omitted.
func (p *UserProfile) Map() map[string]string {
	m := map[string]string{
		"firstName":   p.FirstName,
		"lastName":    p.LastName,
		"email":       p.Email,
		"phoneNumber": p.PhoneNumber,
		"companyName": p.CompanyName,
		"subject":     p.Subject,
		"message":     p.Message,
		"websiteUrl":  p.WebsiteURL,
	}
	for k, v := range m {
		if strings.TrimSpace(v) == "" {
			delete(m, k)
		}
	}
	return m
}

// RenderMessage substitutes {{placeholder}} tokens in a campaign template.
func (p *UserProfile) RenderMessage(template, targetURL, targetDomain string) string {
	if template == "" {
		return p.Message
	}
	r := strings.NewReplacer(
		"{{firstName}}", p.FirstName,
		"{{lastName}}", p.LastName,
		"{{fullName}}", p.FullName(),
		"{{companyName}}", p.CompanyName,
		"{{websiteUrl}}", p.WebsiteURL,
		"{{email}}", p.Email,
		"{{domain}}", targetDomain,
		"{{url}}", targetURL,
	)
	return r.Replace(template)
}
