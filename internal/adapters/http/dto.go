package httpadapter

import (
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"bolagsdata/internal/domain"
)

// Response shapes. Calendar dates go out as YYYY-MM-DD.

type companyDTO struct {
	OrgNumber           string              `json:"orgNumber"`
	OrgNumberFormatted  string              `json:"orgNumberFormatted"`
	Name                string              `json:"name"`
	LegalFormCode       string              `json:"legalFormCode,omitempty"`
	LegalForm           string              `json:"legalForm,omitempty"`
	Status              string              `json:"status"`
	RegisteredOn        *openapi_types.Date `json:"registeredOn,omitempty"`
	DeregisteredOn      *openapi_types.Date `json:"deregisteredOn,omitempty"`
	Address             domain.Address      `json:"address"`
	BusinessDescription string              `json:"businessDescription,omitempty"`
}

func companyFrom(c domain.CompanyIdentity) companyDTO {
	return companyDTO{
		OrgNumber:           c.OrgNumber.String(),
		OrgNumberFormatted:  c.OrgNumber.Formatted(),
		Name:                c.Name,
		LegalFormCode:       c.LegalFormCode,
		LegalForm:           c.LegalForm,
		Status:              c.Status,
		RegisteredOn:        date(c.RegisteredOn),
		DeregisteredOn:      date(c.DeregisteredOn),
		Address:             c.Address,
		BusinessDescription: c.BusinessDescription,
	}
}

type replicaCompanyDTO struct {
	OrgNumber           string              `json:"orgNumber"`
	Name                string              `json:"name"`
	LegalForm           string              `json:"legalForm,omitempty"`
	RegisteredOn        *openapi_types.Date `json:"registeredOn,omitempty"`
	DeregisteredOn      *openapi_types.Date `json:"deregisteredOn,omitempty"`
	DeregistrationCause string              `json:"deregistrationCause,omitempty"`
	PostalAddress       string              `json:"postalAddress,omitempty"`
}

func replicaCompanyFrom(c domain.ReplicaCompany) replicaCompanyDTO {
	return replicaCompanyDTO{
		OrgNumber:           c.OrgNumber,
		Name:                c.Name,
		LegalForm:           c.LegalForm,
		RegisteredOn:        date(c.RegisteredOn),
		DeregisteredOn:      date(c.DeregisteredOn),
		DeregistrationCause: c.DeregistrationCause,
		PostalAddress:       c.PostalAddress,
	}
}

type documentDTO struct {
	DocumentID   string              `json:"documentId"`
	Format       string              `json:"format,omitempty"`
	PeriodEnd    *openapi_types.Date `json:"periodEnd,omitempty"`
	RegisteredAt *time.Time          `json:"registeredAt,omitempty"`
}

func documentFrom(d domain.DocumentDescriptor) documentDTO {
	return documentDTO{
		DocumentID:   d.DocumentID,
		Format:       d.Format,
		PeriodEnd:    date(d.PeriodEnd),
		RegisteredAt: d.RegisteredAt,
	}
}

func date(t *time.Time) *openapi_types.Date {
	if t == nil {
		return nil
	}
	return &openapi_types.Date{Time: *t}
}
