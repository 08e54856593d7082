package registry

import (
	"encoding/json"
	"strings"
	"time"

	"bolagsdata/internal/domain"
)

// Wire formats of the registry API. Only the fields the service reads are
// declared; everything else in the response is ignored.

type identityRequest struct {
	Identitetsbeteckning string `json:"identitetsbeteckning"`
}

type codeText struct {
	Kod      string `json:"kod"`
	Klartext string `json:"klartext"`
}

type organisationResponse struct {
	Organisationer []organisation `json:"organisationer"`
}

type organisation struct {
	Organisationsidentitet struct {
		Identitetsbeteckning string `json:"identitetsbeteckning"`
	} `json:"organisationsidentitet"`
	Organisationsnamn struct {
		Lista []struct {
			Namn string `json:"namn"`
		} `json:"organisationsnamnLista"`
	} `json:"organisationsnamn"`
	Organisationsform  *codeText `json:"organisationsform"`
	Organisationsdatum *struct {
		Registreringsdatum string `json:"registreringsdatum"`
	} `json:"organisationsdatum"`
	AvregistreradOrganisation *struct {
		Avregistreringsdatum string `json:"avregistreringsdatum"`
	} `json:"avregistreradOrganisation"`
	Forfaranden *struct {
		Lista []codeText `json:"avvecklingsOchOmstruktureringsforfarandeLista"`
	} `json:"avvecklingsOchOmstruktureringsforfarande"`
	VerksamOrganisation    *codeText `json:"verksamOrganisation"`
	PostadressOrganisation *struct {
		Postadress *struct {
			Utdelningsadress string `json:"utdelningsadress"`
			CoAdress         string `json:"coAdress"`
			Postnummer       string `json:"postnummer"`
			Postort          string `json:"postort"`
			Land             string `json:"land"`
		} `json:"postadress"`
	} `json:"postadressOrganisation"`
	Verksamhetsbeskrivning *struct {
		Beskrivning string `json:"beskrivning"`
	} `json:"verksamhetsbeskrivning"`
}

type documentListResponse struct {
	Dokument []struct {
		DokumentID             string `json:"dokumentId"`
		Filformat              string `json:"filformat"`
		RapporteringsperiodTom string `json:"rapporteringsperiodTom"`
		Registreringstidpunkt  string `json:"registreringstidpunkt"`
	} `json:"dokument"`
}

// ParseOrganisation maps a raw organisationer response onto CompanyIdentity.
// An empty organisation list is a not-found answer.
func ParseOrganisation(raw json.RawMessage) (domain.CompanyIdentity, error) {
	var resp organisationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.CompanyIdentity{}, &domain.UpstreamError{Op: "organisationer", Attempts: 1, Err: err}
	}
	if len(resp.Organisationer) == 0 {
		return domain.CompanyIdentity{}, &domain.NotFoundError{Entity: "organisation"}
	}
	o := resp.Organisationer[0]

	id := domain.CompanyIdentity{
		OrgNumber: domain.OrgNumber(o.Organisationsidentitet.Identitetsbeteckning),
		Status:    domain.StatusActive,
	}
	if n, err := domain.ParseOrgNumber(string(id.OrgNumber)); err == nil {
		id.OrgNumber = n
	}
	for _, n := range o.Organisationsnamn.Lista {
		if name := strings.TrimSpace(n.Namn); name != "" {
			id.Name = name
			break
		}
	}
	if f := o.Organisationsform; f != nil {
		id.LegalFormCode = f.Kod
		id.LegalForm = f.Klartext
	}
	if d := o.Organisationsdatum; d != nil {
		id.RegisteredOn = parseDate(d.Registreringsdatum)
	}
	if a := o.PostadressOrganisation; a != nil && a.Postadress != nil {
		id.Address = domain.Address{
			Street:     a.Postadress.Utdelningsadress,
			CareOf:     a.Postadress.CoAdress,
			PostalCode: a.Postadress.Postnummer,
			City:       a.Postadress.Postort,
			Country:    a.Postadress.Land,
		}
	}
	if v := o.Verksamhetsbeskrivning; v != nil {
		id.BusinessDescription = strings.TrimSpace(v.Beskrivning)
	}

	switch {
	case o.AvregistreradOrganisation != nil && o.AvregistreradOrganisation.Avregistreringsdatum != "":
		id.Status = domain.StatusDeregistered
		id.DeregisteredOn = parseDate(o.AvregistreradOrganisation.Avregistreringsdatum)
	case o.Forfaranden != nil && len(o.Forfaranden.Lista) > 0:
		id.Status = domain.StatusLiquidation
	case o.VerksamOrganisation != nil && !strings.EqualFold(o.VerksamOrganisation.Kod, "JA"):
		id.Status = domain.StatusInactive
	}
	return id, nil
}

func parseDocumentList(raw []byte) ([]domain.DocumentDescriptor, error) {
	var resp documentListResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &domain.UpstreamError{Op: "dokumentlista", Attempts: 1, Err: err}
	}
	docs := make([]domain.DocumentDescriptor, 0, len(resp.Dokument))
	for _, d := range resp.Dokument {
		if d.DokumentID == "" {
			continue
		}
		docs = append(docs, domain.DocumentDescriptor{
			DocumentID:   d.DokumentID,
			Format:       d.Filformat,
			PeriodEnd:    parseDate(d.RapporteringsperiodTom),
			RegisteredAt: parseDate(d.Registreringstidpunkt),
		})
	}
	return docs, nil
}

var dateLayouts = []string{time.DateOnly, time.RFC3339, "2006-01-02T15:04:05", "20060102"}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
