package codec

import (
	"fmt"
	"slices"

	"github.com/drblury/syncflow/internal/envelope"
)

// fill copies a source record onto the payload of the matching envelope.
func fill(payload any, rec envelope.Record) error {
	switch f := payload.(type) {
	case *envelope.UserFields:
		r, ok := rec.(*envelope.UserRecord)
		if !ok {
			break
		}
		*f = envelope.UserFields{
			FirstName:    r.FirstName.String(),
			LastName:     r.LastName.String(),
			Email:        r.Email.String(),
			Telephone:    r.Telephone.String(),
			Birthday:     r.Birthday.String(),
			Address:      address(r.Country, r.State, r.City, r.Zip, r.Street, r.HouseNumber),
			CompanyEmail: r.CompanyEmail.String(),
			CompanyID:    r.CompanyID.String(),
			Source:       r.Source.String(),
			UserRole:     r.UserRole.String(),
			Invoice:      r.Invoice.String(),
			CalendarLink: r.CalendarLink.String(),
		}
		return nil
	case *envelope.CompanyFields:
		r, ok := rec.(*envelope.CompanyRecord)
		if !ok {
			break
		}
		*f = envelope.CompanyFields{
			Name:      r.Name.String(),
			Email:     r.Email.String(),
			Telephone: r.Telephone.String(),
			Address:   address(r.Country, r.State, r.City, r.Zip, r.Street, r.HouseNumber),
			Category:  r.Category.String(),
			Invoice:   r.Invoice.String(),
		}
		return nil
	case *envelope.EventFields:
		r, ok := rec.(*envelope.EventRecord)
		if !ok {
			break
		}
		*f = envelope.EventFields{
			Date:      r.Date.String(),
			StartTime: r.StartTime.String(),
			EndTime:   r.EndTime.String(),
			Location:  r.Location.String(),
			Speaker: envelope.Speaker{
				UserID:    r.SpeakerUserID.String(),
				CompanyID: r.SpeakerCompanyID.String(),
			},
			MaxRegistrations: r.MaxRegistrations.String(),
			AvailableSeats:   r.AvailableSeats.String(),
			Description:      r.Description.String(),
		}
		return nil
	case *envelope.AttendanceFields:
		r, ok := rec.(*envelope.AttendanceRecord)
		if !ok {
			break
		}
		*f = envelope.AttendanceFields{UserID: r.UserID.String(), EventID: r.EventID.String()}
		return nil
	case *envelope.ProductFields:
		r, ok := rec.(*envelope.ProductRecord)
		if !ok {
			break
		}
		*f = envelope.ProductFields{Name: r.Name.String()}
		return nil
	case *envelope.OrderFields:
		r, ok := rec.(*envelope.OrderRecord)
		if !ok {
			break
		}
		*f = envelope.OrderFields{UserID: r.UserID.String()}
		if r.ProductID != "" || r.Amount != "" {
			f.Products.Items = []envelope.OrderLine{{ProductID: r.ProductID.String(), Amount: r.Amount.String()}}
		}
		return nil
	}
	return fmt.Errorf("%w: %T into %T", ErrRecordMismatch, rec, payload)
}

func address(country, state, city envelope.Text, zip envelope.Integer, street envelope.Text, house envelope.Integer) envelope.Address {
	return envelope.Address{
		Country:     country.String(),
		State:       state.String(),
		City:        city.String(),
		Zip:         zip.String(),
		Street:      street.String(),
		HouseNumber: house.String(),
	}
}

// foreignKeys returns pointers to every field of payload that references
// another entity.
func foreignKeys(payload any) []*string {
	switch f := payload.(type) {
	case *envelope.UserFields:
		return []*string{&f.CompanyID}
	case *envelope.EventFields:
		return []*string{&f.Speaker.UserID, &f.Speaker.CompanyID}
	case *envelope.AttendanceFields:
		return []*string{&f.UserID, &f.EventID}
	case *envelope.OrderFields:
		keys := []*string{&f.UserID}
		for i := range f.Products.Items {
			keys = append(keys, &f.Products.Items[i].ProductID)
		}
		return keys
	}
	return nil
}

// clonePayload returns a pointer to a deep copy of payload.
func clonePayload(payload any) any {
	switch f := payload.(type) {
	case *envelope.UserFields:
		c := *f
		return &c
	case *envelope.CompanyFields:
		c := *f
		c.Logo = ""
		return &c
	case *envelope.EventFields:
		c := *f
		return &c
	case *envelope.AttendanceFields:
		c := *f
		return &c
	case *envelope.ProductFields:
		c := *f
		return &c
	case *envelope.OrderFields:
		c := *f
		c.Products.Items = slices.Clone(f.Products.Items)
		return &c
	}
	return payload
}
