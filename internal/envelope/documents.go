package envelope

import (
	"encoding/xml"

	"github.com/drblury/syncflow/internal/entity"
)

type Address struct {
	Country     string `xml:"country"`
	State       string `xml:"state"`
	City        string `xml:"city"`
	Zip         string `xml:"zip"`
	Street      string `xml:"street"`
	HouseNumber string `xml:"house_number"`
}

// UserFields are the user attributes. CompanyID is a foreign key.
type UserFields struct {
	FirstName    string  `xml:"first_name"`
	LastName     string  `xml:"last_name"`
	Email        string  `xml:"email"`
	Telephone    string  `xml:"telephone"`
	Birthday     string  `xml:"birthday"`
	Address      Address `xml:"address"`
	CompanyEmail string  `xml:"company_email"`
	CompanyID    string  `xml:"company_id"`
	Source       string  `xml:"source"`
	UserRole     string  `xml:"user_role"`
	Invoice      string  `xml:"invoice"`
	CalendarLink string  `xml:"calendar_link"`
}

type User struct {
	XMLName xml.Name `xml:"user"`
	Header
	UserFields
}

func (d *User) Head() *Header   { return &d.Header }
func (*User) Type() entity.Type { return entity.User }
func (d *User) Payload() any    { return &d.UserFields }

// CompanyFields are the company attributes. Logo is always sent empty.
type CompanyFields struct {
	Name      string  `xml:"name"`
	Email     string  `xml:"email"`
	Telephone string  `xml:"telephone"`
	Logo      string  `xml:"logo"`
	Address   Address `xml:"address"`
	Category  string  `xml:"type"`
	Invoice   string  `xml:"invoice"`
}

type Company struct {
	XMLName xml.Name `xml:"company"`
	Header
	CompanyFields
}

func (d *Company) Head() *Header   { return &d.Header }
func (*Company) Type() entity.Type { return entity.Company }
func (d *Company) Payload() any    { return &d.CompanyFields }

// Speaker references the user and company presenting an event.
type Speaker struct {
	UserID    string `xml:"user_id"`
	CompanyID string `xml:"company_id"`
}

type EventFields struct {
	Date             string  `xml:"date"`
	StartTime        string  `xml:"start_time"`
	EndTime          string  `xml:"end_time"`
	Location         string  `xml:"location"`
	Speaker          Speaker `xml:"speaker"`
	MaxRegistrations string  `xml:"max_registrations"`
	AvailableSeats   string  `xml:"available_seats"`
	Description      string  `xml:"description"`
}

type Event struct {
	XMLName xml.Name `xml:"event"`
	Header
	EventFields
}

func (d *Event) Head() *Header   { return &d.Header }
func (*Event) Type() entity.Type { return entity.Event }
func (d *Event) Payload() any    { return &d.EventFields }

type AttendanceFields struct {
	UserID  string `xml:"user_id"`
	EventID string `xml:"event_id"`
}

type Attendance struct {
	XMLName xml.Name `xml:"attendance"`
	Header
	AttendanceFields
}

func (d *Attendance) Head() *Header   { return &d.Header }
func (*Attendance) Type() entity.Type { return entity.Attendance }
func (d *Attendance) Payload() any    { return &d.AttendanceFields }

type ProductFields struct {
	Name string `xml:"name"`
}

type Product struct {
	XMLName xml.Name `xml:"product"`
	Header
	ProductFields
}

func (d *Product) Head() *Header   { return &d.Header }
func (*Product) Type() entity.Type { return entity.Product }
func (d *Product) Payload() any    { return &d.ProductFields }

type OrderLine struct {
	ProductID string `xml:"product_id"`
	Name      string `xml:"name"`
	Amount    string `xml:"amount"`
}

// OrderLines wraps the product list so an order without lines still renders
// an empty products element.
type OrderLines struct {
	Items []OrderLine `xml:"product"`
}

type OrderFields struct {
	UserID   string     `xml:"user_id"`
	Products OrderLines `xml:"products"`
}

type Order struct {
	XMLName xml.Name `xml:"order"`
	Header
	OrderFields
}

func (d *Order) Head() *Header   { return &d.Header }
func (*Order) Type() entity.Type { return entity.Order }
func (d *Order) Payload() any    { return &d.OrderFields }
