package envelope

import (
	"fmt"
	"slices"

	"github.com/drblury/syncflow/internal/entity"
	"github.com/drblury/syncflow/internal/runtime/jsoncodec"
)

// Record is an entity as stored in the source system. Foreign keys hold
// source-local ids.
type Record interface {
	LocalID() string
	Type() entity.Type
}

type UserRecord struct {
	ID           string  `json:"Id"`
	FirstName    Text    `json:"first_name__c"`
	LastName     Text    `json:"last_name__c"`
	Email        Text    `json:"email__c"`
	Telephone    Text    `json:"telephone__c"`
	Birthday     Text    `json:"birthday__c"`
	Country      Text    `json:"country__c"`
	State        Text    `json:"state__c"`
	City         Text    `json:"city__c"`
	Zip          Integer `json:"zip__c"`
	Street       Text    `json:"street__c"`
	HouseNumber  Integer `json:"house_number__c"`
	CompanyEmail Text    `json:"company_email__c"`
	CompanyID    Text    `json:"company_id__c"`
	Source       Text    `json:"source__c"`
	UserRole     Text    `json:"user_role__c"`
	Invoice      Text    `json:"invoice__c"`
	CalendarLink Text    `json:"calendar_link__c"`
}

func (r *UserRecord) LocalID() string { return r.ID }
func (*UserRecord) Type() entity.Type { return entity.User }

type CompanyRecord struct {
	ID          string  `json:"Id"`
	Name        Text    `json:"Name"`
	Email       Text    `json:"email__c"`
	Telephone   Text    `json:"telephone__c"`
	Country     Text    `json:"country__c"`
	State       Text    `json:"state__c"`
	City        Text    `json:"city__c"`
	Zip         Integer `json:"zip__c"`
	Street      Text    `json:"street__c"`
	HouseNumber Integer `json:"house_number__c"`
	Category    Text    `json:"type__c"`
	Invoice     Text    `json:"invoice__c"`
}

func (r *CompanyRecord) LocalID() string { return r.ID }
func (*CompanyRecord) Type() entity.Type { return entity.Company }

type EventRecord struct {
	ID               string    `json:"Id"`
	Date             Text      `json:"date__c"`
	StartTime        ClockTime `json:"start_time__c"`
	EndTime          ClockTime `json:"end_time__c"`
	Location         Text      `json:"location__c"`
	SpeakerUserID    Text      `json:"user_id__c"`
	SpeakerCompanyID Text      `json:"company_id__c"`
	MaxRegistrations Integer   `json:"max_registrations__c"`
	AvailableSeats   Integer   `json:"available_seats__c"`
	Description      Text      `json:"description__c"`
}

func (r *EventRecord) LocalID() string { return r.ID }
func (*EventRecord) Type() entity.Type { return entity.Event }

type AttendanceRecord struct {
	ID      string `json:"Id"`
	UserID  Text   `json:"user_id__c"`
	EventID Text   `json:"event_id__c"`
}

func (r *AttendanceRecord) LocalID() string { return r.ID }
func (*AttendanceRecord) Type() entity.Type { return entity.Attendance }

type ProductRecord struct {
	ID   string `json:"Id"`
	Name Text   `json:"Name"`
}

func (r *ProductRecord) LocalID() string { return r.ID }
func (*ProductRecord) Type() entity.Type { return entity.Product }

// OrderRecord is one order line: a user buying an amount of one product.
type OrderRecord struct {
	ID        string  `json:"Id"`
	UserID    Text    `json:"user_id__c"`
	ProductID Text    `json:"product__c"`
	Amount    Integer `json:"amount__c"`
}

func (r *OrderRecord) LocalID() string { return r.ID }
func (*OrderRecord) Type() entity.Type { return entity.Order }

// NewRecord returns an empty record for t.
func NewRecord(t entity.Type) (Record, error) {
	switch t {
	case entity.User:
		return &UserRecord{}, nil
	case entity.Company:
		return &CompanyRecord{}, nil
	case entity.Event:
		return &EventRecord{}, nil
	case entity.Attendance:
		return &AttendanceRecord{}, nil
	case entity.Product:
		return &ProductRecord{}, nil
	case entity.Order:
		return &OrderRecord{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, t)
}

// DecodeRecord reads one JSON record of type t as returned by the source query API.
func DecodeRecord(t entity.Type, data []byte) (Record, error) {
	rec, err := NewRecord(t)
	if err != nil {
		return nil, err
	}
	if err := jsoncodec.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", t, err)
	}
	return rec, nil
}

// SourceObject describes where records of one type live in the source system.
type SourceObject struct {
	Name    string
	Columns []string
}

var sourceObjects = map[entity.Type]SourceObject{
	entity.User: {Name: "user__c", Columns: []string{
		"first_name__c", "last_name__c", "email__c", "telephone__c", "birthday__c",
		"country__c", "state__c", "city__c", "zip__c", "street__c", "house_number__c",
		"company_email__c", "company_id__c", "source__c", "user_role__c", "invoice__c", "calendar_link__c",
	}},
	entity.Company: {Name: "Company__c", Columns: []string{
		"Name", "email__c", "telephone__c",
		"country__c", "state__c", "city__c", "zip__c", "street__c", "house_number__c",
		"type__c", "invoice__c",
	}},
	entity.Event: {Name: "event__c", Columns: []string{
		"date__c", "start_time__c", "end_time__c", "location__c", "user_id__c", "company_id__c",
		"max_registrations__c", "available_seats__c", "description__c",
	}},
	entity.Attendance: {Name: "attendance__c", Columns: []string{"user_id__c", "event_id__c"}},
	entity.Product:    {Name: "product__c", Columns: []string{"Name"}},
	entity.Order:      {Name: "order__c", Columns: []string{"user_id__c", "product__c", "amount__c"}},
}

// changeFlagAliases maps change-log flag names to the column they track when
// the two differ.
var changeFlagAliases = map[string]string{
	"name__c": "Name",
}

// Source returns the source object backing t.
func Source(t entity.Type) (SourceObject, error) {
	obj, ok := sourceObjects[t]
	if !ok {
		return SourceObject{}, fmt.Errorf("%w: %q", ErrUnknownKind, t)
	}
	obj.Columns = slices.Clone(obj.Columns)
	return obj, nil
}

// ChangedColumns maps the change flags reported for an update to the columns
// of t, dropping flags that do not name a column of t.
func ChangedColumns(t entity.Type, flags []string) []string {
	obj, ok := sourceObjects[t]
	if !ok {
		return nil
	}
	var cols []string
	for _, flag := range flags {
		col := flag
		if alias, ok := changeFlagAliases[flag]; ok {
			col = alias
		}
		if slices.Contains(obj.Columns, col) && !slices.Contains(cols, col) {
			cols = append(cols, col)
		}
	}
	return cols
}

// ChangeFlags lists the change-log flag names tracking the columns of t.
func ChangeFlags(t entity.Type) []string {
	obj, ok := sourceObjects[t]
	if !ok {
		return nil
	}
	flags := make([]string, 0, len(obj.Columns))
	for _, col := range obj.Columns {
		flag := col
		for alias, target := range changeFlagAliases {
			if target == col {
				flag = alias
			}
		}
		flags = append(flags, flag)
	}
	return flags
}
